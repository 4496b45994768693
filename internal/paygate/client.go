package paygate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/tabkeeper/internal/metrics"
)

const (
	tracerName         = "github.com/flemzord/tabkeeper/internal/paygate"
	defaultMockBaseURL = "https://pay.tabkeeper.invalid/simulated"
	defaultCurrency    = "usd"
)

// Config holds the configuration for a Client.
type Config struct {
	Backend Backend
	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.Payments
	Tracer  trace.Tracer

	// AvailabilityTTL is how long a probe result is trusted. Default: 30s.
	AvailabilityTTL time.Duration
	// ProbeTimeout bounds a single capability probe. Default: 5s.
	ProbeTimeout time.Duration

	Link LinkOptions
	Poll PollOptions

	// MockBaseURL prefixes simulated payment links.
	MockBaseURL string
	Currency    string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	c.Link = c.Link.withDefaults(DefaultLinkOptions)
	c.Poll = c.Poll.withDefaults(DefaultPollOptions)
	if c.MockBaseURL == "" {
		c.MockBaseURL = defaultMockBaseURL
	}
	c.MockBaseURL = strings.TrimRight(c.MockBaseURL, "/")
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	return c
}

// Client wraps a Backend with availability caching, retries, simulated
// fallback and polling.
type Client struct {
	backend Backend
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Payments
	tracer  trace.Tracer
	avail   *availability

	link        LinkOptions
	poll        PollOptions
	mockBaseURL string
	currency    string
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Backend == nil {
		return nil, ErrNoBackend
	}

	c := &Client{
		backend:     cfg.Backend,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		link:        cfg.Link,
		poll:        cfg.Poll,
		mockBaseURL: cfg.MockBaseURL,
		currency:    cfg.Currency,
	}
	c.avail = newAvailability(cfg.AvailabilityTTL, cfg.ProbeTimeout, cfg.Clock, c.probe)
	c.avail.onStateChange = func(from, to availabilityState) {
		if from == availabilityUnknown && to == availabilityUp {
			return
		}
		c.logger.Info("payment gateway availability changed", "from", from.String(), "to", to.String())
	}
	return c, nil
}

// GenerateIdempotencyKey returns the gateway idempotency key for a
// checkout started now on sessionID.
func (c *Client) GenerateIdempotencyKey(sessionID string) string {
	return fmt.Sprintf("%s_%d", sessionID, c.clock.Now().Unix())
}

// IsAvailable reports whether the gateway answered its capability probe.
// The answer is cached; concurrent probes collapse into one.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.avail.get(ctx)
}

// InvalidateAvailability discards the cached probe result.
func (c *Client) InvalidateAvailability() {
	c.avail.invalidate()
}

func (c *Client) probe(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "paygate.probe")
	defer span.End()

	start := time.Now()
	caps, err := c.backend.ProbeCapabilities(ctx)
	up := err == nil && len(caps) > 0
	c.metrics.GatewayCall("probe", outcome(err), time.Since(start))

	span.SetAttributes(attribute.Bool("paygate.available", up), attribute.Int("paygate.capabilities", len(caps)))
	if err != nil {
		span.RecordError(err)
		c.logger.Debug("payment gateway probe failed", "error", err)
	}
	return up
}

// CreatePaymentLink asks the gateway for a payment link. An unavailable
// gateway yields a simulated link at once. Otherwise failed attempts are
// retried after InitialBackoff, doubling each time, until MaxRetries or
// OverallTimeout is reached, and a simulated link is returned. A rejected
// request is returned as an error without retrying.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest, opts LinkOptions) (PaymentLink, error) {
	opts = opts.withDefaults(c.link)
	if !req.Amount.IsPositive() {
		return PaymentLink{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequest, req.Amount)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GenerateIdempotencyKey(req.SessionID)
	}
	if req.Currency == "" {
		req.Currency = c.currency
	}

	ctx, span := c.tracer.Start(ctx, "paygate.create_link", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.String("amount", req.Amount.StringFixed(2)),
	))
	defer span.End()

	log := c.logger.With("session_id", req.SessionID, "idempotency_key", req.IdempotencyKey)

	if !c.IsAvailable(ctx) {
		return c.fallback(span, log, 0, FallbackUnavailable, ErrUnavailable), nil
	}

	start := c.clock.Now()
	backoff := opts.InitialBackoff
	reason := FallbackExhausted
	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.clock.Now().Add(backoff).Sub(start) >= opts.OverallTimeout {
				reason = FallbackTimeout
				break
			}
			log.Debug("retrying payment link creation", "attempt", attempt+1, "backoff", backoff)
			if err := c.clock.Sleep(ctx, backoff); err != nil {
				span.SetStatus(codes.Error, "cancelled")
				return PaymentLink{}, fmt.Errorf("%w: %w", ErrNetwork, err)
			}
			backoff *= 2
		}

		remaining := opts.OverallTimeout - c.clock.Now().Sub(start)
		if remaining <= 0 {
			reason = FallbackTimeout
			break
		}

		attempts++
		link, err := c.createOnce(ctx, req, remaining)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", attempts),
			attribute.String("outcome", outcome(err)),
		))
		if err == nil {
			c.avail.record(true)
			span.SetAttributes(attribute.String("payment_id", link.ID))
			return PaymentLink{URL: link.URL, PaymentID: link.ID, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return PaymentLink{}, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
		}
		if errors.Is(err, ErrRejected) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rejected")
			log.Warn("payment link rejected by gateway", "attempt", attempts, "error", err)
			return PaymentLink{Attempts: attempts}, err
		}

		lastErr = err
		log.Warn("payment link attempt failed", "attempt", attempts, "max_attempts", opts.MaxRetries+1, "error", err)
	}

	c.avail.record(false)
	return c.fallback(span, log, attempts, reason, lastErr), nil
}

func (c *Client) createOnce(ctx context.Context, req LinkRequest, budget time.Duration) (RemoteLink, error) {
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	link, err := c.backend.CreatePaymentLink(actx, req)
	if err == nil && (link.ID == "" || link.URL == "") {
		err = fmt.Errorf("%w: incomplete payment link in response", ErrRejected)
	}
	if err != nil && actx.Err() != nil && ctx.Err() == nil && !IsRetryable(err) {
		err = fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	c.metrics.GatewayCall("create_link", outcome(err), time.Since(start))
	return link, err
}

func (c *Client) fallback(span trace.Span, log *slog.Logger, attempts int, reason string, cause error) PaymentLink {
	id := simulatedPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	link := PaymentLink{
		URL:            c.mockBaseURL + "/" + id,
		PaymentID:      id,
		Simulated:      true,
		Attempts:       attempts,
		FallbackReason: reason,
	}

	log.Warn("payment gateway fallback, issuing simulated payment link",
		"reason", reason, "attempts", attempts, "payment_id", id, "error", cause)
	c.metrics.Fallback(reason)
	span.AddEvent("fallback", trace.WithAttributes(attribute.String("reason", reason)))
	span.SetAttributes(attribute.String("payment_id", id), attribute.Bool("simulated", true))
	return link
}

// CheckPaymentStatus polls the gateway until the payment succeeds, fails,
// or the deadline or attempt budget runs out. A poll slower than
// PerPollTimeout counts as a failed attempt, and no poll may outlive the
// deadline: an answer arriving after it is reported as PollTimeout. Simulated payments succeed
// without contacting the gateway. Cancelling ctx abandons the poll and
// returns PollTimeout with the context error.
func (c *Client) CheckPaymentStatus(ctx context.Context, paymentID string, opts PollOptions) (PollResult, error) {
	opts = opts.withDefaults(c.poll)
	if paymentID == "" {
		return PollResult{}, fmt.Errorf("%w: empty payment id", ErrInvalidRequest)
	}

	ctx, span := c.tracer.Start(ctx, "paygate.check_status", trace.WithAttributes(
		attribute.String("payment_id", paymentID),
	))
	defer span.End()

	result := c.pollLoop(ctx, paymentID, opts)
	span.SetAttributes(attribute.String("poll.status", string(result.Status)), attribute.Int("poll.attempts", result.Attempts))
	c.metrics.PollResult(string(result.Status))
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

func (c *Client) pollLoop(ctx context.Context, paymentID string, opts PollOptions) PollResult {
	if IsSimulated(paymentID) {
		return PollResult{Status: PollSucceeded}
	}

	log := c.logger.With("payment_id", paymentID)
	start := c.clock.Now()
	attempts := 0

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if c.clock.Now().Add(opts.Interval).Sub(start) > opts.Deadline {
				break
			}
			if err := c.clock.Sleep(ctx, opts.Interval); err != nil {
				break
			}
		}

		remaining := opts.Deadline - c.clock.Now().Sub(start)
		if remaining <= 0 {
			break
		}

		attempts++
		pctx, cancel := context.WithTimeout(ctx, min(opts.PerPollTimeout, remaining))
		begin := time.Now()
		status, err := c.backend.PaymentStatus(pctx, paymentID)
		cancel()
		c.metrics.GatewayCall("payment_status", outcome(err), time.Since(begin))

		if c.clock.Now().Sub(start) > opts.Deadline {
			log.Info("payment status answered after the deadline", "attempt", attempts, "status", status)
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, ErrRejected) {
				log.Warn("payment status rejected by gateway", "attempt", attempts, "error", err)
				return PollResult{Status: PollFailed, Attempts: attempts}
			}
			log.Debug("payment status poll failed", "attempt", attempts, "error", err)
			continue
		}

		switch status {
		case RemoteSucceeded:
			return PollResult{Status: PollSucceeded, Attempts: attempts}
		case RemoteFailed:
			return PollResult{Status: PollFailed, Attempts: attempts}
		}
	}

	log.Info("payment status poll timed out", "attempts", attempts)
	return PollResult{Status: PollTimeout, Attempts: attempts}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
