package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// ResponseAction processes one inbound message from a contact.
type ResponseAction func(ctx context.Context, from, text string) error

// ResponseHandler drains a service's responses channel and hands each message from a contact
// to its action. Messages from one contact are processed one at a time in arrival order;
// different contacts are processed concurrently.
type ResponseHandler struct {
	msgService Service
	action     ResponseAction

	mu      sync.Mutex
	queues  map[string][]models.Response // per-contact backlog; a key exists while a worker runs
	workers sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(msgService Service, action ResponseAction) *ResponseHandler {
	return &ResponseHandler{
		msgService: msgService,
		action:     action,
		queues:     make(map[string][]models.Response),
	}
}

// Run dispatches messages until ctx is cancelled or the channel is closed, then waits for the
// messages already dispatched.
func (rh *ResponseHandler) Run(ctx context.Context) {
	defer rh.workers.Wait()
	responses := rh.msgService.Responses()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping due to context cancellation")
			return
		case r, ok := <-responses:
			if !ok {
				slog.Debug("ResponseHandler stopping, responses channel closed")
				return
			}
			rh.dispatch(ctx, r)
		}
	}
}

// dispatch queues r behind earlier messages from the same contact, starting a worker for that
// contact when none is running.
func (rh *ResponseHandler) dispatch(ctx context.Context, r models.Response) {
	if r.FromSelf {
		rh.ProcessResponse(ctx, r)
		return
	}
	rh.mu.Lock()
	backlog, running := rh.queues[r.From]
	rh.queues[r.From] = append(backlog, r)
	rh.mu.Unlock()
	if running {
		return
	}

	rh.workers.Add(1)
	go func() {
		defer rh.workers.Done()
		rh.drain(ctx, r.From)
	}()
}

// drain processes the backlog of one contact until it is empty.
func (rh *ResponseHandler) drain(ctx context.Context, from string) {
	for {
		rh.mu.Lock()
		backlog := rh.queues[from]
		if len(backlog) == 0 {
			delete(rh.queues, from)
			rh.mu.Unlock()
			return
		}
		r := backlog[0]
		rh.queues[from] = backlog[1:]
		rh.mu.Unlock()

		rh.ProcessResponse(ctx, r)
	}
}

// ProcessResponse handles one message. Messages the bot sent itself are skipped and action
// errors are logged, never returned: a failing reply must not stop the loop.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, r models.Response) {
	if r.FromSelf {
		slog.Debug("ResponseHandler skipping own message", "chat", r.From)
		return
	}
	slog.Debug("ResponseHandler processing response", "from", r.From, "body_length", len(r.Body))
	if err := rh.action(ctx, r.From, r.Body); err != nil {
		slog.Error("ResponseHandler action failed", "error", err, "from", r.From)
	}
}
