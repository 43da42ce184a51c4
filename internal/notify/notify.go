// Package notify emails new orders to the shop owner through Resend.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/resend/resend-go/v2"
	"github.com/shopspring/decimal"
)

const (
	// DefaultFrom is the sender used when none is configured.
	DefaultFrom = "Abonnement Premium <onboarding@resend.dev>"
	// DefaultSubject is the subject of order notification emails.
	DefaultSubject = "Nouvelle demande d'abonnement"
)

var (
	ErrMissingAPIKey    = errors.New("resend API key must be provided")
	ErrMissingRecipient = errors.New("notification recipient must be provided")
)

// emailSender is the part of the Resend client used here.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Opts holds configuration options for the email notifier.
type Opts struct {
	APIKey  string
	To      string
	From    string
	Subject string
}

// Option defines a configuration option for the email notifier.
type Option func(*Opts)

// WithAPIKey sets the Resend API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithRecipient sets the address receiving order notifications.
func WithRecipient(to string) Option {
	return func(o *Opts) { o.To = to }
}

// WithFrom overrides the sender address.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// EmailNotifier sends an HTML summary of each order by email.
type EmailNotifier struct {
	emails  emailSender
	to      string
	from    string
	subject string
}

// NewEmailNotifier creates an EmailNotifier backed by the Resend API.
func NewEmailNotifier(opts ...Option) (*EmailNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("EmailNotifier options set", "APIKey_set", cfg.APIKey != "", "To_set", cfg.To != "", "From", cfg.From)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client := resend.NewClient(cfg.APIKey)
	return newEmailNotifier(client.Emails, cfg)
}

func newEmailNotifier(emails emailSender, cfg Opts) (*EmailNotifier, error) {
	if cfg.To == "" {
		return nil, ErrMissingRecipient
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	return &EmailNotifier{emails: emails, to: cfg.To, from: cfg.From, subject: cfg.Subject}, nil
}

// Notify emails the order. The order is expected to carry its display defaults.
func (n *EmailNotifier) Notify(ctx context.Context, order models.Order, price decimal.Decimal) error {
	body, err := renderOrderEmail(order, price)
	if err != nil {
		return err
	}

	sent, err := n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: n.subject,
		Html:    body,
	})
	if err != nil {
		slog.Error("EmailNotifier.Notify: Resend request failed", "error", err)
		return fmt.Errorf("failed to send order email: %w", err)
	}

	slog.Info("EmailNotifier.Notify: email sent", "id", sent.Id)
	return nil
}

var orderEmailTemplate = template.Must(template.New("order").Parse(`<!DOCTYPE html>
<html>
<head>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background-color: #4CAF50; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
    .content { background-color: #f9f9f9; padding: 20px; border: 1px solid #ddd; border-radius: 0 0 5px 5px; }
    .field { margin-bottom: 15px; padding: 10px; background-color: white; border-left: 4px solid #4CAF50; }
    .field-label { font-weight: bold; color: #4CAF50; }
    .field-value { margin-top: 5px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h2>🔔 Nouvelle demande d'abonnement</h2></div>
    <div class="content">
      {{range .}}<div class="field">
        <div class="field-label">{{.Label}}</div>
        <div class="field-value">{{.Value}}</div>
      </div>
      {{end}}
    </div>
  </div>
</body>
</html>
`))

type emailField struct {
	Label string
	Value string
}

func renderOrderEmail(order models.Order, price decimal.Decimal) (string, error) {
	fields := []emailField{
		{"👤 Nom:", orUnspecified(order.Name)},
		{"📧 Email:", orUnspecified(order.Email)},
		{"📱 Numéro WhatsApp:", orUnspecified(order.Phone)},
		{"📦 Offre:", orUnspecified(order.Offer)},
		{"🔗 Connexions:", orUnspecified(order.Connections)},
		{"💰 Prix:", price.String() + "€"},
		{"🌐 Page URL:", orUnspecified(order.PageURL)},
	}
	var buf bytes.Buffer
	if err := orderEmailTemplate.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("failed to render order email: %w", err)
	}
	return buf.String(), nil
}

func orUnspecified(v string) string {
	if v == "" {
		return "Non spécifié"
	}
	return v
}
