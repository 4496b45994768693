package httpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/flemzord/tabkeeper/internal/paygate"
)

var _ paygate.Backend = (*Backend)(nil)

type capabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

type linkRequest struct {
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type linkResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Backend is a paygate.Backend speaking the gateway's REST API.
type Backend struct {
	http *resty.Client
}

// NewBackend builds a Backend from a validated config.
func NewBackend(cfg Config) *Backend {
	cfg.defaults()
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Backend{http: c}
}

// ProbeCapabilities implements paygate.Backend.
func (b *Backend) ProbeCapabilities(ctx context.Context) ([]string, error) {
	resp, err := b.http.R().SetContext(ctx).Get("/v1/capabilities")
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp.StatusCode(), resp.Body())
	}

	var out capabilitiesResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("httpgw: decode capabilities: %w", paygate.ErrUnavailable)
	}
	return out.Capabilities, nil
}

// CreatePaymentLink implements paygate.Backend.
func (b *Backend) CreatePaymentLink(ctx context.Context, req paygate.LinkRequest) (paygate.RemoteLink, error) {
	body := linkRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    map[string]string{"session_id": req.SessionID},
	}

	r := b.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if req.IdempotencyKey != "" {
		r.SetHeader("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := r.Post("/v1/payment_links")
	if err != nil {
		return paygate.RemoteLink{}, mapTransportError(err)
	}
	if resp.IsError() {
		return paygate.RemoteLink{}, mapHTTPError(resp.StatusCode(), resp.Body())
	}

	var out linkResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.ID == "" || out.URL == "" {
		return paygate.RemoteLink{}, fmt.Errorf("httpgw: malformed payment link response: %w", paygate.ErrUnavailable)
	}
	return paygate.RemoteLink{ID: out.ID, URL: out.URL}, nil
}

// PaymentStatus implements paygate.Backend.
func (b *Backend) PaymentStatus(ctx context.Context, paymentID string) (paygate.RemoteStatus, error) {
	resp, err := b.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		Get("/v1/payment_links/{id}")
	if err != nil {
		return "", mapTransportError(err)
	}
	if resp.IsError() {
		return "", mapHTTPError(resp.StatusCode(), resp.Body())
	}

	var out statusResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("httpgw: decode status: %w", paygate.ErrUnavailable)
	}
	switch s := paygate.RemoteStatus(out.Status); s {
	case paygate.RemotePending, paygate.RemoteSucceeded, paygate.RemoteFailed:
		return s, nil
	default:
		return "", fmt.Errorf("httpgw: unknown payment status %q: %w", out.Status, paygate.ErrUnavailable)
	}
}
