package conversation

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/shopspring/decimal"
)

// Fixed replies.
const (
	MenuMessage = "✅ *Veuillez confirmer vos informations :*\n\n" +
		"1️⃣ Oui, je confirme mes informations. *Envoyez-moi le lien de paiement sécurisé* 💳\n\n" +
		"2️⃣ J'ai une question avant de m'abonner\n\n" +
		"👆 Répondez avec le numéro ou le texte correspondant."
	SupportMessage = "💬 Bien sûr ! Posez votre question et notre équipe de support vous assistera rapidement. \n\n" +
		"🤝 Nous sommes là pour vous aider !"
	ClarifyMessage = "⚠️ Je n'ai pas bien compris votre réponse. Tapez *1* ou *2* pour continuer."
)

var (
	summaryTemplate = template.Must(template.New("summary").Parse(
		"Salut 👋 *{{.Name}}*, merci pour votre demande d'abonnement ✅\n\n" +
			"Voici un résumé de vos informations :\n\n" +
			"📦 Pack choisi : *{{.Offer}}*\n" +
			"🔗 Connexions : *{{.Connections}}*\n\n" +
			"💰 Prix total : *{{.Price}}€*"))

	paymentTemplate = template.Must(template.New("payment").Parse(
		"🎉 *Parfait !* Voici votre lien de paiement sécurisé :\n\n" +
			"💳 {{.}}\n\n" +
			"Merci pour votre confiance ! 🙏"))

	adminTemplate = template.Must(template.New("admin").Parse(
		"Nouvelle Commande ✅✅ :\n\n" +
			"Numero whatsapp: {{.Phone}}\n" +
			"Nom complet : {{.Name}}\n" +
			"Pack : {{.Offer}}\n\n" +
			"Numéro cnx: {{.Connections}}\n" +
			"Gmail: {{.Email}}\n" +
			"Prix: {{.Price}}€"))
)

// orderView is an order with its defaults applied and its resolved price.
type orderView struct {
	models.Order
	Price string
}

func newOrderView(o models.Order, price decimal.Decimal) orderView {
	return orderView{Order: o.WithDefaults(), Price: price.String()}
}

// SummaryMessage renders the order summary sent to the customer.
func SummaryMessage(o models.Order, price decimal.Decimal) (string, error) {
	return render(summaryTemplate, newOrderView(o, price))
}

// PaymentMessage renders the reply carrying the payment link.
func PaymentMessage(link string) (string, error) {
	return render(paymentTemplate, link)
}

// AdminMessage renders the copy of the order forwarded to the administrator.
func AdminMessage(o models.Order, price decimal.Decimal) (string, error) {
	return render(adminTemplate, newOrderView(o, price))
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", t.Name(), err)
	}
	return b.String(), nil
}
