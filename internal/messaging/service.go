// Package messaging provides the chat transports OrderPipe talks through and routes their
// inbound messages to the conversation controller.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the responses channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound message may wait for channel space
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits and MaxPhoneDigits bound a canonical phone number (E.164 allows 15 digits)
	MinPhoneDigits = 6
	MaxPhoneDigits = 15
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number or address and returns the
	// identity used for this transport. Each service applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a canonical recipient and returns once acknowledged.
	SendMessage(ctx context.Context, to string, body string) error

	// Ready reports whether messages can be sent.
	Ready() bool

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming messages.
	Responses() <-chan models.Response
}

// canonicalDigits strips everything but digits and checks the length.
func canonicalDigits(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if len(canonical) > MaxPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too long (maximum %d digits allowed)", canonical, MaxPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("Canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// forwardResponse pushes r to ch, dropping it when the channel stays full.
func forwardResponse(ch chan<- models.Response, r models.Response) {
	select {
	case ch <- r:
		slog.Debug("Incoming message forwarded", "from", r.From, "from_self", r.FromSelf)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("Responses channel blocked, dropping message", "from", r.From, "timeout", DefaultChannelTimeout)
	}
}
