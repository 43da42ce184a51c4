package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound messages reach it through
// the HTTP webhook, which calls HandleInbound.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService wrapping the given client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient validates a phone number or Twilio address and returns its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalDigits(strings.TrimPrefix(recipient, twiliowhatsapp.AddressPrefix))
}

// Start is a no-op for Twilio: there is no live connection.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// Ready is true until the service is stopped; Twilio needs no login.
func (s *TwilioService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}

// SendMessage sends a message through Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if !s.Ready() {
		return ErrServiceStopped
	}
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}
	slog.Info("TwilioService message sent", "to", to)
	return nil
}

// Responses returns a channel of incoming messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// HandleInbound queues a message received by the Twilio webhook.
func (s *TwilioService) HandleInbound(from, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	forwardResponse(s.responses, models.Response{From: canonical, Body: body, Time: time.Now().Unix()})
	return nil
}
