package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	return &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient turns a phone number or user JID into a user JID
// ("33612345678@s.whatsapp.net").
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	user := recipient
	// Only the user part of a JID is a phone number; drop the device and server.
	if i := strings.IndexAny(user, "@:"); i >= 0 {
		user = user[:i]
	}
	digits, err := canonicalDigits(user)
	if err != nil {
		return "", err
	}
	return digits + whatsapp.JIDSuffix, nil
}

// connector is implemented by clients that hold a live connection.
type connector interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Start registers the event handler, then connects the client if it holds a live connection.
// The handler must be in place before connecting or queued offline messages are lost.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService event handler registered")
	if c, ok := s.client.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("whatsapp connect failed: %w", err)
		}
	}
	return nil
}

// Stop disconnects the client and closes the responses channel. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if c, ok := s.client.(connector); ok {
		c.Disconnect()
	}
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// Ready reports whether the client is logged in and connected.
func (s *WhatsAppService) Ready() bool {
	return s.client.IsReady()
}

// SendMessage sends a message to a canonical recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		return fmt.Errorf("whatsapp send failed: %w", err)
	}
	slog.Info("WhatsAppService message sent", "to", to)
	return nil
}

// Responses returns a channel of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected")
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out", "reason", v.Reason)
	}
}

// handleIncomingMessage forwards text messages from one-to-one chats.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsGroup {
		return
	}

	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// For our own messages the sender is us; the conversation partner is the chat.
	from := phoneJID(evt.Info.Sender, evt.Info.SenderAlt)
	if evt.Info.IsFromMe {
		from = phoneJID(evt.Info.Chat, evt.Info.RecipientAlt)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	forwardResponse(s.responses, models.Response{
		From:     from,
		Body:     text,
		Time:     evt.Info.Timestamp.Unix(),
		FromSelf: evt.Info.IsFromMe,
	})
}

// phoneJID returns the phone-number JID of a contact. Contacts addressed by a hidden LID carry
// their phone-number JID in the alternate field.
func phoneJID(primary, alt types.JID) string {
	if primary.Server == types.HiddenUserServer && !alt.IsEmpty() {
		return alt.ToNonAD().String()
	}
	return primary.ToNonAD().String()
}
