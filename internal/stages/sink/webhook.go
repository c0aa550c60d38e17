package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// WebhookConfig configures the webhook sink
type WebhookConfig struct {
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit caps requests per second across every sink worker. Zero
	// disables limiting.
	RateLimit float64
	Headers   map[string]string
	// BreakerFailures opens the circuit after that many consecutive failures
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultWebhookConfig returns defaults for url
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:             url,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    30 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  60 * time.Second,
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.Code, e.Body)
}

// Webhook posts every record to an HTTP endpoint
type Webhook struct {
	cfg     WebhookConfig
	client  *resty.Client
	breaker *resilience.Breaker
	limiter *rate.Limiter
	logger  *zap.Logger

	delivered atomic.Int64
}

// NewWebhook creates the sink
func NewWebhook(cfg WebhookConfig, logger *zap.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink: url required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = leveledLogger{logger.Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient())
	client.SetTimeout(cfg.Timeout)
	client.SetHeaders(cfg.Headers)
	client.SetHeader("User-Agent", "assemblyline")

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := resilience.New("webhook", resilience.Settings{
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Webhook{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Post sends body. Transient failures are retried; an open circuit fails
// fast.
func (h *Webhook) Post(ctx context.Context, body []byte, contentType string) error {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	err := h.breaker.Execute(func() error {
		resp, err := h.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", contentType).
			SetBody(body).
			Post(h.cfg.URL)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		if code := resp.StatusCode(); code < http.StatusOK || code >= http.StatusMultipleChoices {
			return &StatusError{Code: code, Body: truncate(resp.String(), 256)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.delivered.Add(1)
	return nil
}

// Delivered returns the number of accepted posts
func (h *Webhook) Delivered() int64 {
	return h.delivered.Load()
}

// BreakerState exposes the circuit state
func (h *Webhook) BreakerState() resilience.State {
	return h.breaker.State()
}

// Handle is the sink message hook
func (h *Webhook) Handle(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
	contentType := "application/octet-stream"
	if msg.Encoding == transport.EncodingJSON {
		contentType = "application/json"
	}
	return nil, h.Post(ctx, msg.Bytes(), contentType)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// leveledLogger adapts zap to retryablehttp
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
