// Package chain tries an ordered list of provider credentials until one
// returns text. Primary credentials are each wrapped in the retry engine; an
// optional secondary credential gets exactly one call at the end. Exhausting
// the chain is not an error: the Outcome simply carries no text.
package chain

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/bakebake-xr/bakebake/internal/cooldown"
	"github.com/bakebake-xr/bakebake/internal/provider"
	"github.com/bakebake-xr/bakebake/internal/retry"
)

// Call outcomes reported to an Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeCancelled   = "cancelled"
)

// Link binds a credential to the client constructed for it.
type Link struct {
	Credential provider.Credential
	Generator  provider.Generator
}

// Observer receives per-call telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveCall(providerName, outcome string, elapsed time.Duration)
	ObserveCooldownTrip(credential string)
}

// Config describes the chain's credentials and retry policy.
type Config struct {
	Primary      []Link
	Secondary    *Link
	MaxAttempts  int
	InitialDelay time.Duration
	// RetryTransient lets a primary credential retry 5xx and transport
	// failures in place. When false every failure advances to the next
	// credential immediately.
	RetryTransient bool
}

// Failure records why one credential did not produce text.
type Failure struct {
	Credential  provider.Credential
	Attempts    int
	RateLimited bool
	Err         error
}

// Outcome is the result of one chain run.
type Outcome struct {
	Text string
	// Credential that produced Text; zero value when nothing answered.
	Credential provider.Credential
	Failures   []Failure
	// TrippedCooldown is set when this run observed a rate limit.
	TrippedCooldown bool
}

// OK reports whether some credential produced text.
func (o Outcome) OK() bool { return o.Text != "" }

// Chain is safe for concurrent use; it holds no per-run state.
type Chain struct {
	cfg      Config
	gate     *cooldown.Gate
	observer Observer
}

// Option configures a Chain.
type Option func(*Chain)

// WithObserver attaches telemetry.
func WithObserver(o Observer) Option {
	return func(c *Chain) { c.observer = o }
}

// New creates a Chain that reports rate limits to gate.
func New(gate *cooldown.Gate, cfg Config, opts ...Option) *Chain {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	c := &Chain{cfg: cfg, gate: gate, observer: nopObserver{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether at least one credential is available.
func (c *Chain) Configured() bool {
	return len(c.cfg.Primary) > 0 || c.cfg.Secondary != nil
}

// Size returns the number of primary credentials and whether a secondary
// credential is configured.
func (c *Chain) Size() (primary int, secondary bool) {
	return len(c.cfg.Primary), c.cfg.Secondary != nil
}

type step struct {
	link        Link
	maxAttempts int
}

// steps yields the primaries in order, then the secondary with one attempt.
func (c *Chain) steps() iter.Seq[step] {
	return func(yield func(step) bool) {
		for _, l := range c.cfg.Primary {
			if !yield(step{link: l, maxAttempts: c.cfg.MaxAttempts}) {
				return
			}
		}
		if c.cfg.Secondary != nil {
			yield(step{link: *c.cfg.Secondary, maxAttempts: 1})
		}
	}
}

// Run walks the chain. The only error it returns wraps retry.ErrCancelled;
// every provider failure is absorbed into the Outcome.
func (c *Chain) Run(ctx context.Context, prompt string, hint *provider.Schema) (Outcome, error) {
	var out Outcome

	for s := range c.steps() {
		cred := s.link.Credential
		var rateLimited bool

		text, err := retry.Do(ctx, retry.Policy{
			MaxAttempts:  s.maxAttempts,
			InitialDelay: c.cfg.InitialDelay,
			Retryable: func(err error) bool {
				if provider.IsRateLimit(err) {
					rateLimited = true
					c.trip(cred)
					return false
				}
				return c.cfg.RetryTransient && provider.IsTransient(err)
			},
			OnRetry: func(attempt int, delay time.Duration, err error) {
				slog.Debug("retrying provider call",
					"credential", cred.String(),
					"attempt", attempt,
					"delay", delay,
					"error", err,
				)
			},
		}, func(ctx context.Context) (string, error) {
			return c.call(ctx, s.link, prompt, hint)
		})

		if err == nil {
			out.Text = text
			out.Credential = cred
			out.TrippedCooldown = out.TrippedCooldown || rateLimited
			if !out.TrippedCooldown {
				c.gate.Clear()
			}
			return out, nil
		}

		if errors.Is(err, retry.ErrCancelled) {
			return out, err
		}

		out.TrippedCooldown = out.TrippedCooldown || rateLimited
		out.Failures = append(out.Failures, Failure{
			Credential:  cred,
			Attempts:    retry.Attempts(err),
			RateLimited: rateLimited,
			Err:         err,
		})
		slog.Warn("provider credential failed",
			"credential", cred.String(),
			"attempts", retry.Attempts(err),
			"rate_limited", rateLimited,
			"error", err,
		)
	}

	if c.Configured() {
		slog.Warn("provider chain exhausted", "failures", len(out.Failures))
	}
	return out, nil
}

func (c *Chain) call(ctx context.Context, l Link, prompt string, hint *provider.Schema) (string, error) {
	start := time.Now()
	text, err := l.Generator.Generate(ctx, prompt, hint)
	if err == nil && text == "" {
		err = &provider.Error{Provider: l.Credential.Provider, Err: provider.ErrEmptyResponse}
	}
	c.observer.ObserveCall(l.Credential.Provider, classify(ctx, err), time.Since(start))
	return text, err
}

func (c *Chain) trip(cred provider.Credential) {
	until := c.gate.Trip()
	c.observer.ObserveCooldownTrip(cred.String())
	slog.Info("rate limit observed, cooldown engaged",
		"credential", cred.String(),
		"until", until.Format(time.RFC3339),
	)
}

func classify(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil:
		return OutcomeCancelled
	case provider.IsRateLimit(err):
		return OutcomeRateLimited
	case errors.Is(err, provider.ErrEmptyResponse):
		return OutcomeEmpty
	default:
		return OutcomeError
	}
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, time.Duration) {}
func (nopObserver) ObserveCooldownTrip(string)                {}
