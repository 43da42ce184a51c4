// Package api provides the HTTP server for OrderPipe.
//
// It receives order notifications from the website form, exposes health and metrics endpoints,
// accepts Twilio inbound webhooks and routes chat replies to the conversation controller.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/conversation"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/metrics"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Default configuration constants
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":3000"
	// DefaultInitTimeout is how long the transport may take to become ready before an error is logged.
	DefaultInitTimeout = 2 * time.Minute
	// HealthGracePeriod is how long the service reports healthy while the transport is not ready.
	HealthGracePeriod = 120 * time.Second
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout = 10 * time.Second
	// readyPollInterval is how often the transport readiness is checked during startup.
	readyPollInterval = 1 * time.Second
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
)

// ServiceName is reported by the root endpoint.
const ServiceName = "OrderPipe WhatsApp Bot"

// OrderController is the part of the conversation controller the server drives.
type OrderController interface {
	AcceptOrder(ctx context.Context, order models.Order) (conversation.AcceptResult, error)
	HandleMessage(ctx context.Context, from string, text string) (conversation.Outcome, error)
	Stats() map[conversation.Stage]int
}

// InboundReceiver queues messages delivered by a webhook-based transport.
type InboundReceiver interface {
	HandleInbound(from, body string) error
}

// SignatureValidator checks the signature of an inbound webhook request.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	InitTimeout time.Duration
	StartTime   time.Time
	Inbound     InboundReceiver
	Validator   SignatureValidator
	PublicURL   string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithInitTimeout sets how long the transport may take to become ready.
func WithInitTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.InitTimeout = d
	}
}

// WithStartTime overrides the time uptime is measured from.
func WithStartTime(t time.Time) Option {
	return func(o *Opts) {
		o.StartTime = t
	}
}

// WithTwilioInbound enables POST /twilio/inbound. When validator is not nil every request must
// carry a valid X-Twilio-Signature computed over publicURL (or the request URL when empty).
func WithTwilioInbound(inbound InboundReceiver, validator SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.Inbound = inbound
		o.Validator = validator
		o.PublicURL = publicURL
	}
}

// Server holds all dependencies for the API handlers.
type Server struct {
	msgService  messaging.Service
	controller  OrderController
	addr        string
	initTimeout time.Duration
	startTime   time.Time
	inbound     InboundReceiver
	validator   SignatureValidator
	publicURL   string
	initDone    atomic.Bool
}

// NewServer creates a new API server instance.
func NewServer(msgService messaging.Service, controller OrderController, opts ...Option) *Server {
	cfg := Opts{
		Addr:        DefaultAddr,
		InitTimeout: DefaultInitTimeout,
		StartTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	return &Server{
		msgService:  msgService,
		controller:  controller,
		addr:        cfg.Addr,
		initTimeout: cfg.InitTimeout,
		startTime:   cfg.StartTime,
		inbound:     cfg.Inbound,
		validator:   cfg.Validator,
		publicURL:   cfg.PublicURL,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/form-data", s.formDataHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/test", s.testHandler)
	mux.Handle("/metrics", metrics.Handler())
	if s.inbound != nil {
		mux.HandleFunc("/twilio/inbound", s.twilioInboundHandler)
	}
	mux.HandleFunc("/", s.rootHandler)
	return mux
}

// Run starts the messaging service, the reply loop and the HTTP server, and blocks until ctx
// is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		slog.Error("Server.Run: failed to start messaging service", "error", err)
		return err
	}
	defer func() {
		if err := s.msgService.Stop(); err != nil {
			slog.Error("Server.Run: failed to stop messaging service", "error", err)
		}
	}()

	respHandler := messaging.NewResponseHandler(s.msgService, s.handleMessage)
	go respHandler.Run(ctx)
	go s.watchInitialization(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr, "webhook", "/api/form-data", "health", "/health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("Server.Run: HTTP server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}

// handleMessage routes an inbound chat message to the controller.
func (s *Server) handleMessage(ctx context.Context, from, text string) error {
	outcome, err := s.controller.HandleMessage(ctx, from, text)
	if err != nil {
		return err
	}
	slog.Debug("Server.handleMessage: message handled", "from", from, "outcome", outcome)
	return nil
}

// watchInitialization marks initialization complete once the transport is ready and logs an
// error if that takes longer than the init timeout.
func (s *Server) watchInitialization(ctx context.Context) {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.initTimeout)
	defer deadline.Stop()

	for {
		if s.msgService.Ready() {
			s.initDone.Store(true)
			slog.Info("Messaging transport is ready", "startup", time.Since(s.startTime).Round(time.Second))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			slog.Error("Messaging transport initialization timeout, check the login state and restart if needed",
				"timeout", s.initTimeout)
		case <-ticker.C:
		}
	}
}
