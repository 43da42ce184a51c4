// Package models defines the core data structures for OrderPipe.
//
// It includes the inbound order submitted by the website form, incoming chat messages and the
// JSON envelopes returned by the HTTP API. These types are shared across modules.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Defaults applied to optional order fields, as shown to the customer and the administrator.
const (
	DefaultName        = "Client"
	DefaultEmail       = "Non fourni"
	DefaultOffer       = "Non spécifié"
	DefaultConnections = "1"
	DefaultPageURL     = "Non fourni"
)

// Validation constants for input validation
const (
	// MaxFieldLength defines the maximum allowed length of any order field
	MaxFieldLength = 1024
)

var (
	ErrMissingPhone = errors.New("phone number is required")
	ErrFieldTooLong = errors.New("order field exceeds maximum length")
)

// Order is an order notification submitted by the website form.
type Order struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Offer       string `json:"offer"`
	Connections string `json:"connections"`
	PageURL     string `json:"page_url"`
}

// UnmarshalJSON decodes an order. Form plugins send phone and connections either as strings or
// as numbers; both are kept as their text.
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	aux := struct {
		*plain
		Phone       json.RawMessage `json:"phone"`
		Connections json.RawMessage `json:"connections"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if o.Phone, err = looseString(aux.Phone); err != nil {
		return fmt.Errorf("phone: %w", err)
	}
	if o.Connections, err = looseString(aux.Connections); err != nil {
		return fmt.Errorf("connections: %w", err)
	}
	return nil
}

// looseString reads a JSON string or number as text. Absent and null values are empty.
func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("expected a string or a number, got %s", raw)
	}
	return n.String(), nil
}

// Validate checks the mandatory fields. Only the phone number is required.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.Phone) == "" {
		return ErrMissingPhone
	}
	for _, f := range []string{o.Name, o.Phone, o.Email, o.Offer, o.Connections, o.PageURL} {
		if len(f) > MaxFieldLength {
			return ErrFieldTooLong
		}
	}
	return nil
}

// WithDefaults returns a copy of the order where empty optional fields carry their display defaults.
func (o Order) WithDefaults() Order {
	o.Name = orDefault(o.Name, DefaultName)
	o.Email = orDefault(o.Email, DefaultEmail)
	o.Offer = orDefault(o.Offer, DefaultOffer)
	o.Connections = orDefault(o.Connections, DefaultConnections)
	o.PageURL = orDefault(o.PageURL, DefaultPageURL)
	return o
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Response represents an incoming chat message.
type Response struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
	FromSelf bool   `json:"from_self,omitempty"` // sent by the bot's own account
}

// API Response types for consistent JSON responses

// APIResponse is the JSON envelope returned by the HTTP API.
type APIResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	EmailSent      *bool  `json:"emailSent,omitempty"`
	AdminForwarded *bool  `json:"adminForwarded,omitempty"`
	Error          string `json:"error,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithSuccess sets the success flag of the API response.
func (b *APIResponseBuilder) WithSuccess(success bool) *APIResponseBuilder {
	b.response.Success = success
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithEmailSent records whether the email notification went out.
func (b *APIResponseBuilder) WithEmailSent(sent bool) *APIResponseBuilder {
	b.response.EmailSent = &sent
	return b
}

// WithAdminForwarded records whether the administrator copy went out.
func (b *APIResponseBuilder) WithAdminForwarded(sent bool) *APIResponseBuilder {
	b.response.AdminForwarded = &sent
	return b
}

// WithError sets the error detail of the API response.
func (b *APIResponseBuilder) WithError(err string) *APIResponseBuilder {
	b.response.Error = err
	return b
}

// WithRetryable marks the failure as worth retrying later.
func (b *APIResponseBuilder) WithRetryable() *APIResponseBuilder {
	b.response.Retryable = true
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with a message.
func Success(message string) APIResponse {
	return NewAPIResponseBuilder().WithSuccess(true).WithMessage(message).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithMessage(message).Build()
}
