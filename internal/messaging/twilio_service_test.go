package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type mockTwilioClient struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockTwilioClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+":"+body)
	return nil
}

func TestTwilioCanonicalize(t *testing.T) {
	s := NewTwilioService(&mockTwilioClient{})
	got, err := s.ValidateAndCanonicalizeRecipient("whatsapp:+33612345678")
	if err != nil || got != "33612345678" {
		t.Errorf("unexpected %q, %v", got, err)
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("whatsapp:+1"); err == nil {
		t.Error("expected error for short number")
	}
}

func TestTwilioServiceInboundAndSend(t *testing.T) {
	client := &mockTwilioClient{}
	s := NewTwilioService(client)

	if err := s.HandleInbound("whatsapp:+33612345678", "1"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	r := <-s.Responses()
	if r.From != "33612345678" || r.Body != "1" {
		t.Errorf("unexpected response %+v", r)
	}

	if err := s.SendMessage(context.Background(), "33612345678", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0] != "33612345678:hi" {
		t.Errorf("unexpected sends %v", client.sent)
	}

	client.err = errors.New("429")
	if err := s.SendMessage(context.Background(), "33612345678", "hi"); err == nil {
		t.Error("expected error")
	}

	s.Stop()
	if s.Ready() {
		t.Error("stopped service must not be ready")
	}
	if err := s.HandleInbound("whatsapp:+33612345678", "1"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
