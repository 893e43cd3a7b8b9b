package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/infrastructure/ratelimit"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

// CallObserver receives one event per provider call outcome.
type CallObserver interface {
	ObserveReasoningCall(provider, status string)
}

type Option func(*Client)

// WithAlternate configures the single fallback provider for plain generation.
func WithAlternate(provider ports.ReasoningProvider) Option {
	return func(c *Client) { c.alternate = provider }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCallObserver(observer CallObserver) Option {
	return func(c *Client) { c.observer = observer }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// Client is the rate-limited, retrying reasoning client shared by every
// request in the process.
type Client struct {
	primary     ports.ReasoningProvider
	alternate   ports.ReasoningProvider
	limiter     *ratelimit.Limiter
	executor    *resilience.Executor
	logger      *slog.Logger
	observer    CallObserver
	callTimeout time.Duration
}

func New(primary ports.ReasoningProvider, limiter *ratelimit.Limiter, executor *resilience.Executor, opts ...Option) *Client {
	c := &Client{
		primary:     primary,
		limiter:     limiter,
		executor:    executor,
		logger:      slog.Default(),
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if c.executor == nil {
		c.executor = resilience.NewExecutor(resilience.DefaultConfig(), resilience.WithLogger(c.logger))
	}
	return c
}

func (c *Client) BackedOff() bool {
	return c.limiter.BackedOff()
}

func (c *Client) CanMakeRequest() bool {
	return c.limiter.CanMakeRequest()
}

// Generate runs plain text generation on the primary provider and, if it
// still fails after retries, tries the alternate provider exactly once. When
// both fail the primary's error is returned.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...ports.GenerateOption) (string, error) {
	options := ports.ApplyGenerateOptions(opts...)

	text, attempted, err := c.callPrimary(ctx, prompt, options)
	if err == nil {
		return text, nil
	}
	failed := attempted || resilience.IsCircuitOpen(err)
	if !failed || c.alternate == nil || ctx.Err() != nil {
		return "", err
	}

	altText, altErr := c.callAlternate(ctx, prompt, options)
	if altErr != nil {
		c.logger.Warn("reasoning_fallback_failed",
			"primary", c.primary.Name(),
			"alternate", c.alternate.Name(),
			"primary_error", err,
			"alternate_error", altErr,
		)
		return "", err
	}
	c.logger.Info("reasoning_fallback_used", "primary", c.primary.Name(), "alternate", c.alternate.Name())
	return altText, nil
}

// GenerateStructured is primary-only JSON generation.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, opts ...ports.GenerateOption) (string, error) {
	options := ports.ApplyGenerateOptions(opts...)
	options.JSON = true
	text, _, err := c.callPrimary(ctx, prompt, options)
	return text, err
}

func (c *Client) callPrimary(ctx context.Context, prompt string, options ports.GenerateOptions) (string, bool, error) {
	if c.primary == nil {
		return "", false, fmt.Errorf("reasoning: primary provider is not configured")
	}
	provider := c.primary.Name()

	if c.limiter.BackedOff() {
		c.observe(provider, "backed_off")
		return "", false, domain.ErrProviderBackedOff
	}

	var text string
	var lastCallErr error
	attempted := false
	err := c.executor.Execute(ctx, "reasoning."+provider, func(ctx context.Context) error {
		release, err := c.limiter.Acquire()
		if err != nil {
			return err
		}
		defer release()
		attempted = true

		out, err := c.invoke(ctx, c.primary, prompt, options)
		if err != nil {
			lastCallErr = err
			c.noteThrottle(err)
			return err
		}
		text = out
		return nil
	}, ClassifyError)

	// A retry rejected by the limiter surfaces the provider failure behind it.
	if lastCallErr != nil && isLimiterRejection(err) {
		err = lastCallErr
	}

	switch {
	case err == nil:
		c.observe(provider, "ok")
		return text, true, nil
	case errors.Is(err, domain.ErrRateLimitExceeded):
		c.observe(provider, "rate_limited")
	case errors.Is(err, domain.ErrProviderBackedOff):
		c.observe(provider, "backed_off")
	default:
		c.observe(provider, "error")
	}
	return "", attempted, WrapTemporary("reasoning "+provider, err)
}

func (c *Client) callAlternate(ctx context.Context, prompt string, options ports.GenerateOptions) (string, error) {
	provider := c.alternate.Name()
	release, err := c.limiter.AcquireSlot()
	if err != nil {
		c.observe(provider, "rate_limited")
		return "", err
	}
	defer release()

	// The alternate has its own model namespace.
	options.Model = ""
	text, err := c.invoke(ctx, c.alternate, prompt, options)
	if err != nil {
		c.observe(provider, "error")
		return "", err
	}
	c.observe(provider, "ok")
	return text, nil
}

func (c *Client) invoke(ctx context.Context, provider ports.ReasoningProvider, prompt string, options ports.GenerateOptions) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return provider.Generate(callCtx, prompt, options)
}

// noteThrottle moves the backoff deadline forward on throttling responses.
func (c *Client) noteThrottle(err error) {
	var providerErr *domain.ProviderError
	if !errors.As(err, &providerErr) || !providerErr.Throttled() {
		return
	}
	hint := providerErr.RetryAfter
	if hint <= 0 {
		hint = RetryAfterFromBody(providerErr.Body)
	}
	deadline := c.limiter.BackOff(hint)
	c.logger.Warn("reasoning_provider_backoff",
		"provider", providerErr.Provider,
		"status", providerErr.StatusCode,
		"retry_after_ms", hint.Milliseconds(),
		"backoff_until", deadline,
	)
}

func isLimiterRejection(err error) bool {
	return errors.Is(err, domain.ErrRateLimitExceeded) || errors.Is(err, domain.ErrProviderBackedOff)
}

func (c *Client) observe(provider, status string) {
	if c.observer != nil {
		c.observer.ObserveReasoningCall(provider, status)
	}
}
