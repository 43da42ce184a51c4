package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

func TestResponseHandlerRoutesContactMessages(t *testing.T) {
	svc := NewTwilioService(&mockTwilioClient{})
	type call struct{ from, text string }
	calls := make(chan call, 10)
	rh := NewResponseHandler(svc, func(ctx context.Context, from, text string) error {
		calls <- call{from, text}
		if text == "fail" {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rh.Run(ctx)
		close(done)
	}()

	svc.HandleInbound("33612345678", "fail")
	svc.HandleInbound("33612345678", "1")

	for _, want := range []string{"fail", "1"} {
		select {
		case c := <-calls:
			if c.text != want || c.from != "33612345678" {
				t.Errorf("unexpected call %+v, want text %q", c, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestResponseHandlerSkipsOwnMessages(t *testing.T) {
	called := false
	rh := NewResponseHandler(NewTwilioService(&mockTwilioClient{}), func(ctx context.Context, from, text string) error {
		called = true
		return nil
	})
	rh.ProcessResponse(context.Background(), models.Response{From: "33612345678", Body: "1", FromSelf: true})
	if called {
		t.Error("own messages must not reach the action")
	}
}

func TestResponseHandlerStopsOnClosedChannel(t *testing.T) {
	svc := NewTwilioService(&mockTwilioClient{})
	rh := NewResponseHandler(svc, func(ctx context.Context, from, text string) error { return nil })
	svc.Stop()

	done := make(chan struct{})
	go func() {
		rh.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after channel close")
	}
}

func TestResponseHandlerDoesNotBlockOtherContacts(t *testing.T) {
	svc := NewTwilioService(&mockTwilioClient{})
	release := make(chan struct{})
	handled := make(chan string, 10)
	rh := NewResponseHandler(svc, func(ctx context.Context, from, text string) error {
		if from == "33600000001" {
			<-release
		}
		handled <- from + ":" + text
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rh.Run(ctx)

	svc.HandleInbound("33600000001", "hello")
	svc.HandleInbound("33600000002", "1")

	select {
	case got := <-handled:
		if got != "33600000002:1" {
			t.Errorf("expected the second contact first, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("second contact was held up by the first")
	}

	close(release)
	select {
	case got := <-handled:
		if got != "33600000001:hello" {
			t.Errorf("unexpected message %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("first contact never processed")
	}
}

func TestResponseHandlerKeepsPerContactOrder(t *testing.T) {
	svc := NewTwilioService(&mockTwilioClient{})
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	rh := NewResponseHandler(svc, func(ctx context.Context, from, text string) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, text)
		if len(got) == 5 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rh.Run(ctx)

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		svc.HandleInbound("33612345678", text)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, "") != "abcde" {
		t.Errorf("expected arrival order, got %v", got)
	}
}
