package whatsapp

import (
	"context"
	"sync"

	"go.mau.fi/whatsmeow"
)

// MockClient implements WhatsAppSender without a WhatsApp connection. It records sent
// messages and lets tests emit events.
type MockClient struct {
	mu       sync.Mutex
	Ready    bool
	Err      error
	Sent     []SentMessage
	handlers []whatsmeow.EventHandler
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient returns a ready MockClient.
func NewMockClient() *MockClient {
	return &MockClient{Ready: true}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Ready
}

func (m *MockClient) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ready = ready
}

func (m *MockClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return uint32(len(m.handlers))
}

// Emit delivers evt to every registered handler.
func (m *MockClient) Emit(evt interface{}) {
	m.mu.Lock()
	handlers := append([]whatsmeow.EventHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
