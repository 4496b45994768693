package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/security"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed "sha256=".
const SignatureHeader = "X-Signature-256"

// ErrUnknownSource is returned for webhooks from an unregistered source.
var ErrUnknownSource = errors.New("api: unknown webhook source")

// WebhookHandler processes a validated webhook payload.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) (any, error)
}

type webhookEntry struct {
	handler WebhookHandler
	secret  string
}

// WebhookDispatcher routes incoming webhooks to registered handlers with HMAC validation.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	logger   *slog.Logger
	maxBody  int
	maxDepth int
	metrics  *Metrics
}

// NewWebhookDispatcher creates a ready-to-use dispatcher. Zero limits
// take the security package defaults.
func NewWebhookDispatcher(logger *slog.Logger, maxBody, maxDepth int) *WebhookDispatcher {
	if maxBody <= 0 {
		maxBody = security.DefaultMaxPayloadSize
	}
	if maxDepth <= 0 {
		maxDepth = security.DefaultMaxJSONDepth
	}
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		logger:   logger,
		maxBody:  maxBody,
		maxDepth: maxDepth,
	}
}

// Register adds a handler for the given source. An empty secret skips
// signature checks.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: secret}
}

// Sources returns how many sources are registered.
func (d *WebhookDispatcher) Sources() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// ServeHTTP implements http.Handler. It extracts the source from the chi URL param,
// validates the signature and dispatches to the registered handler.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.metrics.RecordWebhook()

	source := chi.URLParam(r, "source")
	d.mu.RLock()
	entry, ok := d.handlers[source]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("webhook received for unregistered source", "source", source)
		writeJSON(w, http.StatusNotFound, payment.Fail(payment.CodePaymentFailed, fmt.Sprintf("%v: %q", ErrUnknownSource, source)))
		return
	}

	body, err := readBody(r, d.maxBody, d.maxDepth)
	if err != nil {
		badRequest(w, err)
		return
	}

	if entry.secret != "" && !validateHMAC(body, r.Header.Get(SignatureHeader), entry.secret) {
		d.logger.Warn("webhook signature rejected", "source", source, "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	result, err := entry.handler.HandleWebhook(r.Context(), source, body, r.Header)
	if err != nil {
		d.logger.Warn("webhook handler failed", "source", source, "error", err)
	}
	writeEnvelope(w, result, err)
}

// validateHMAC checks HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(Sign(body, secret)), []byte(signature)) == 1
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// paymentWebhooks applies gateway payment pushes to sessions.
type paymentWebhooks struct {
	svc *checkout.Service
}

func (p paymentWebhooks) HandleWebhook(ctx context.Context, _ string, body []byte, _ http.Header) (any, error) {
	var ev checkout.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decoding webhook: %w", payment.ErrInvalidState, err)
	}
	return p.svc.HandleWebhook(ctx, ev)
}
