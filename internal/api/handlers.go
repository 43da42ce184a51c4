package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/conversation"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// emptyTwiML acknowledges a Twilio webhook without replying through TwiML.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// formDataHandler handles POST /api/form-data, the order webhook of the website form.
func (s *Server) formDataHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.formDataHandler: processing order", "method", r.Method, "content_type", r.Header.Get("Content-Type"))
	if r.Method != http.MethodPost {
		slog.Warn("Server.formDataHandler: method not allowed", "method", r.Method)
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	order, err := decodeOrder(r)
	if err != nil {
		slog.Warn("Server.formDataHandler: failed to decode request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	slog.Info("Server.formDataHandler: order received", "phone", order.Phone, "offer", order.Offer, "connections", order.Connections)

	// The conversation must be fully started even if the form backend hangs up.
	result, err := s.controller.AcceptOrder(context.WithoutCancel(r.Context()), order)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrTransportUnavailable):
		slog.Error("Server.formDataHandler: transport not ready")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.NewAPIResponseBuilder().
			WithMessage("WhatsApp bot is not ready yet").
			WithRetryable().
			Build())
		return
	case errors.Is(err, conversation.ErrValidation):
		slog.Warn("Server.formDataHandler: order rejected", "error", err)
		message := "Invalid phone number"
		if errors.Is(err, models.ErrMissingPhone) {
			message = "Phone number is required"
		}
		writeJSONResponse(w, http.StatusBadRequest, models.NewAPIResponseBuilder().
			WithMessage(message).
			WithError(err.Error()).
			Build())
		return
	default:
		slog.Error("Server.formDataHandler: failed to process order", "error", err)
		resp := models.NewAPIResponseBuilder().WithMessage("Failed to send messages").WithError(err.Error())
		var dispatchErr *conversation.DispatchError
		if errors.As(err, &dispatchErr) {
			resp = resp.WithRetryable()
		}
		writeJSONResponse(w, http.StatusInternalServerError, resp.Build())
		return
	}

	writeJSONResponse(w, http.StatusOK, models.NewAPIResponseBuilder().
		WithSuccess(true).
		WithMessage("Messages sent successfully").
		WithEmailSent(result.EmailSent).
		WithAdminForwarded(result.AdminForwarded).
		Build())
}

// decodeOrder reads an order from a JSON, url-encoded or multipart body.
func decodeOrder(r *http.Request) (models.Order, error) {
	var order models.Order
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		err := json.NewDecoder(r.Body).Decode(&order)
		return order, err
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return order, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return order, err
		}
	}
	order = models.Order{
		Name:        r.PostFormValue("name"),
		Phone:       r.PostFormValue("phone"),
		Email:       r.PostFormValue("email"),
		Offer:       r.PostFormValue("offer"),
		Connections: r.PostFormValue("connections"),
		PageURL:     r.PostFormValue("page_url"),
	}
	return order, nil
}

// rootHandler describes the service.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"service":       ServiceName,
		"status":        "running",
		"whatsappReady": s.msgService.Ready(),
		"endpoints": map[string]string{
			"webhook": "/api/form-data",
			"health":  "/health",
			"test":    "/test",
			"metrics": "/metrics",
		},
	})
}

// healthHandler reports healthy while the transport is ready or still within its startup grace period.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	uptime := time.Since(s.startTime)
	ready := s.msgService.Ready()
	healthy := ready || uptime < HealthGracePeriod

	status, statusCode := "healthy", http.StatusOK
	if !healthy {
		status, statusCode = "unhealthy", http.StatusServiceUnavailable
	}

	healthData := map[string]interface{}{
		"status":                 status,
		"whatsappReady":          ready,
		"initializationComplete": s.initDone.Load() || ready,
		"uptimeSeconds":          int64(uptime / time.Second),
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	}
	if s.controller != nil {
		healthData["conversations"] = s.controller.Stats()
	}
	writeJSONResponse(w, statusCode, healthData)
}

// testHandler is a reachability probe.
func (s *Server) testHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Server.testHandler: test endpoint accessed", "remote", r.RemoteAddr)
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message":       "Bot is accessible!",
		"whatsappReady": s.msgService.Ready(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// twilioInboundHandler handles POST /twilio/inbound, the incoming message webhook of Twilio.
func (s *Server) twilioInboundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioInboundHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.ValidateSignature(s.webhookURL(r), params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioInboundHandler: invalid signature", "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}

	from := r.PostForm.Get("From")
	if from == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sender"))
		return
	}
	if err := s.inbound.HandleInbound(from, r.PostForm.Get("Body")); err != nil {
		slog.Warn("Server.twilioInboundHandler: message rejected", "error", err, "from", from)
		statusCode := http.StatusBadRequest
		if errors.Is(err, messaging.ErrServiceStopped) {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSONResponse(w, statusCode, models.Error(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.twilioInboundHandler: failed to write response", "error", err)
	}
}

// webhookURL is the URL Twilio signed the request for.
func (s *Server) webhookURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
