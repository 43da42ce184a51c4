package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/catalog"
	"github.com/BTreeMap/OrderPipe/internal/intent"
	"github.com/BTreeMap/OrderPipe/internal/metrics"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultMessageGap is the pause between the order summary and the confirmation menu.
const DefaultMessageGap = 1 * time.Second

var (
	// ErrValidation is returned when an order is rejected before any side effect.
	ErrValidation = errors.New("invalid order")
	// ErrTransportUnavailable is returned while the chat transport is not logged in. Retryable.
	ErrTransportUnavailable = errors.New("chat transport is not ready")
)

// Outbound steps reported in DispatchError.
const (
	StepSummary = "summary"
	StepMenu    = "menu"
	StepPayment = "payment"
	StepSupport = "support"
	StepClarify = "clarify"
	StepAdmin   = "admin"
	StepEmail   = "email"
)

// DispatchError reports a failed outbound send.
type DispatchError struct {
	Step      string
	Recipient string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to send %s message to %s: %v", e.Step, e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Transport is the chat channel the controller talks through.
type Transport interface {
	// ValidateAndCanonicalizeRecipient turns a phone number or address into a stable identity.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendMessage sends body to an identity and returns once the send is acknowledged.
	SendMessage(ctx context.Context, to string, body string) error
	// Ready reports whether the transport is logged in and connected.
	Ready() bool
}

// Notifier delivers an out-of-band notification about a new order.
type Notifier interface {
	Notify(ctx context.Context, order models.Order, price decimal.Decimal) error
}

// Outcome describes what HandleMessage did with a reply.
type Outcome string

const (
	OutcomeIgnoredCompleted Outcome = "ignored_completed"
	OutcomeIgnoredEcho      Outcome = "ignored_echo"
	OutcomeIgnoredNoPending Outcome = "ignored_no_pending"
	OutcomeSilent           Outcome = "silent"
	OutcomePaymentLinkSent  Outcome = "payment_link_sent"
	OutcomeSupportSent      Outcome = "support_sent"
	OutcomeClarifySent      Outcome = "clarify_sent"
)

// AcceptResult is the result of a successful AcceptOrder.
type AcceptResult struct {
	Identity       string
	PaymentLink    string
	Price          decimal.Decimal
	AdminForwarded bool
	EmailSent      bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithAdminRecipient sets the canonical identity that receives a copy of every order.
func WithAdminRecipient(id string) Option {
	return func(c *Controller) {
		c.admin = id
	}
}

// WithNotifier sets the email notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithMessageGap sets the pause between the summary and the menu. Zero disables it.
func WithMessageGap(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.gap = d
		}
	}
}

// Controller runs the order conversation: it accepts orders and answers replies.
type Controller struct {
	store      *Store
	catalog    *catalog.Catalog
	classifier *intent.Classifier
	transport  Transport
	notifier   Notifier
	admin      string
	gap        time.Duration
	locks      keyedMutex
}

// NewController creates a Controller.
func NewController(store *Store, cat *catalog.Catalog, classifier *intent.Classifier, transport Transport, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		catalog:    cat,
		classifier: classifier,
		transport:  transport,
		gap:        DefaultMessageGap,
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("Controller created", "admin_set", c.admin != "", "notifier_set", c.notifier != nil, "gap", c.gap)
	return c
}

// Store returns the controller's state store.
func (c *Controller) Store() *Store {
	return c.store
}

// Stats returns the number of conversations per stage.
func (c *Controller) Stats() map[Stage]int {
	return c.store.Counts()
}

// AcceptOrder starts a new conversation for the order's phone number. Any previous state for
// that identity is discarded first. The returned error is ErrTransportUnavailable, wraps
// ErrValidation, or is a *DispatchError when the summary or menu could not be sent. Admin
// forward and email failures are reported in the result only.
func (c *Controller) AcceptOrder(ctx context.Context, order models.Order) (AcceptResult, error) {
	if !c.transport.Ready() {
		metrics.RecordOrder("unavailable")
		return AcceptResult{}, ErrTransportUnavailable
	}
	if err := order.Validate(); err != nil {
		metrics.RecordOrder("invalid")
		return AcceptResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	id, err := c.transport.ValidateAndCanonicalizeRecipient(order.Phone)
	if err != nil {
		metrics.RecordOrder("invalid")
		return AcceptResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	link, price := c.catalog.Resolve(order.Offer, order.Connections)
	result := AcceptResult{Identity: id, PaymentLink: link, Price: price}

	if err := c.startConversation(ctx, id, order, PendingOrder{PaymentLink: link, Price: price}); err != nil {
		metrics.RecordOrder("failed")
		return result, err
	}

	result.AdminForwarded, result.EmailSent = c.notifyOrder(ctx, order, price)
	metrics.RecordOrder("accepted")
	slog.Info("Controller.AcceptOrder: order accepted", "to", id, "price", price.String(),
		"admin_forwarded", result.AdminForwarded, "email_sent", result.EmailSent)
	return result, nil
}

// startConversation resets id, stores the pending order and sends the summary then the menu,
// holding the identity lock so replies wait until the menu flag is settled.
func (c *Controller) startConversation(ctx context.Context, id string, order models.Order, pending PendingOrder) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	c.store.Reset(id)
	c.store.SetPending(id, pending)
	slog.Debug("Controller.startConversation: pending order stored", "to", id)

	summary, err := SummaryMessage(order, pending.Price)
	if err != nil {
		return err
	}
	if err := c.send(ctx, StepSummary, id, summary); err != nil {
		return err
	}

	if err := sleepContext(ctx, c.gap); err != nil {
		return &DispatchError{Step: StepMenu, Recipient: id, Err: err}
	}

	if err := c.send(ctx, StepMenu, id, MenuMessage); err != nil {
		return err
	}
	c.store.MarkSentMenu(id)
	slog.Debug("Controller.startConversation: confirmation menu sent", "to", id)
	return nil
}

// notifyOrder forwards the order to the administrator and the email notifier concurrently and
// waits for both. Neither leg can fail the order.
func (c *Controller) notifyOrder(ctx context.Context, order models.Order, price decimal.Decimal) (adminForwarded, emailSent bool) {
	ctx = context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	if c.admin != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := AdminMessage(order, price)
			if err != nil {
				slog.Error("Controller.notifyOrder: failed to render admin message", "error", err)
				return
			}
			adminForwarded = c.send(ctx, StepAdmin, c.admin, body) == nil
		}()
	}

	if c.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.notifier.Notify(ctx, order.WithDefaults(), price); err != nil {
				metrics.RecordDispatchFailure(StepEmail)
				slog.Error("Controller.notifyOrder: email notification failed", "error", err)
				return
			}
			emailSent = true
		}()
	}

	wg.Wait()
	return adminForwarded, emailSent
}

// HandleMessage processes one inbound chat message and sends at most one reply.
// A failed reply leaves the conversation untouched so the user can answer again.
func (c *Controller) HandleMessage(ctx context.Context, from string, text string) (Outcome, error) {
	id, err := c.transport.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return "", fmt.Errorf("invalid sender: %w", err)
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if c.store.IsCompleted(id) {
		return c.ignore(id, OutcomeIgnoredCompleted), nil
	}
	if c.classifier.IsSelfEcho(text) {
		return c.ignore(id, OutcomeIgnoredEcho), nil
	}
	pending, ok := c.store.GetPending(id)
	if !ok {
		return c.ignore(id, OutcomeIgnoredNoPending), nil
	}

	kind := c.classifier.Classify(text)
	metrics.RecordIntent(string(kind))
	slog.Debug("Controller.HandleMessage: reply classified", "from", id, "intent", kind)

	switch kind {
	case intent.Confirm:
		body, err := PaymentMessage(pending.PaymentLink)
		if err != nil {
			return "", err
		}
		if err := c.send(ctx, StepPayment, id, body); err != nil {
			return "", err
		}
		c.complete(id)
		return OutcomePaymentLinkSent, nil

	case intent.Support:
		if err := c.send(ctx, StepSupport, id, SupportMessage); err != nil {
			return "", err
		}
		c.complete(id)
		return OutcomeSupportSent, nil

	default:
		if !c.store.HasSentMenu(id) {
			return OutcomeSilent, nil
		}
		if err := c.send(ctx, StepClarify, id, ClarifyMessage); err != nil {
			return "", err
		}
		return OutcomeClarifySent, nil
	}
}

func (c *Controller) complete(id string) {
	c.store.ClearPending(id)
	c.store.MarkCompleted(id)
	slog.Info("Controller: conversation completed", "from", id)
}

func (c *Controller) ignore(id string, outcome Outcome) Outcome {
	metrics.RecordIgnored(string(outcome))
	slog.Debug("Controller.HandleMessage: message ignored", "from", id, "reason", outcome)
	return outcome
}

func (c *Controller) send(ctx context.Context, step, to, body string) error {
	if err := c.transport.SendMessage(ctx, to, body); err != nil {
		metrics.RecordDispatchFailure(step)
		slog.Error("Controller: send failed", "step", step, "to", to, "error", err)
		return &DispatchError{Step: step, Recipient: to, Err: err}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
