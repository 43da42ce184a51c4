package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func textEvent(user, body string, fromMe bool) *events.Message {
	jid := types.NewJID(user, types.DefaultUserServer)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid, Sender: jid, IsFromMe: fromMe},
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &body},
	}
}

func TestWhatsAppCanonicalize(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())

	valid := map[string]string{
		"+33 6 12 34 56 78":             "33612345678@s.whatsapp.net",
		"33612345678":                   "33612345678@s.whatsapp.net",
		"33612345678@s.whatsapp.net":    "33612345678@s.whatsapp.net",
		"33612345678:12@s.whatsapp.net": "33612345678@s.whatsapp.net",
		"(212) 628-468-203":             "212628468203@s.whatsapp.net",
	}
	for in, want := range valid {
		got, err := s.ValidateAndCanonicalizeRecipient(in)
		if err != nil || got != want {
			t.Errorf("canonicalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	for _, in := range []string{"", "abc", "12345", "1234567890123456"} {
		if _, err := s.ValidateAndCanonicalizeRecipient(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestWhatsAppServiceForwardsMessages(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mock.Emit(textEvent("33612345678", "oui", false))
	mock.Emit(textEvent("33612345678", "Voici un résumé", true))

	r := <-s.Responses()
	if r.From != "33612345678@s.whatsapp.net" || r.Body != "oui" || r.FromSelf || r.Time != 1700000000 {
		t.Errorf("unexpected response %+v", r)
	}
	r = <-s.Responses()
	if !r.FromSelf {
		t.Errorf("expected own message to be flagged, got %+v", r)
	}
}

func TestWhatsAppServiceResolvesHiddenSenders(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)
	s.Start(context.Background())

	evt := textEvent("33612345678", "1", false)
	lid := types.NewJID("987654321012345", types.HiddenUserServer)
	evt.Info.SenderAlt = evt.Info.Sender
	evt.Info.Sender = lid
	evt.Info.Chat = lid
	mock.Emit(evt)

	r := <-s.Responses()
	if r.From != "33612345678@s.whatsapp.net" {
		t.Errorf("expected phone JID, got %q", r.From)
	}
}

func TestWhatsAppServiceIgnoresGroupsAndMedia(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)
	s.Start(context.Background())

	group := textEvent("33612345678", "oui", false)
	group.Info.IsGroup = true
	mock.Emit(group)
	media := textEvent("33612345678", "", false)
	media.Message = &waE2E.Message{}
	mock.Emit(media)
	mock.Emit(&events.Connected{})

	select {
	case r := <-s.Responses():
		t.Errorf("unexpected response %+v", r)
	default:
	}
}

func TestWhatsAppServiceSend(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)

	if !s.Ready() {
		t.Error("expected ready")
	}
	if err := s.SendMessage(context.Background(), "33612345678@s.whatsapp.net", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msgs := mock.Messages(); len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	mock.SetReady(false)
	if s.Ready() {
		t.Error("expected not ready")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
	if err := s.SendMessage(context.Background(), "x", "y"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if _, ok := <-s.Responses(); ok {
		t.Error("expected closed channel")
	}
}
