// Package cooldown implements the process-wide rate-limit gate. A single
// Gate is shared by every request: one rate-limit signal from any credential
// closes it for the whole process, and one success anywhere reopens it.
package cooldown

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWindow is how long the gate stays closed after a rate-limit signal.
const DefaultWindow = 45 * time.Second

// Gate holds the "next allowed at" timestamp. The zero timestamp means open.
type Gate struct {
	mu            sync.Mutex
	clock         clock.Clock
	window        time.Duration
	nextAllowedAt time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock, typically with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithWindow overrides DefaultWindow. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.window = d
		}
	}
}

// New creates an open Gate.
func New(opts ...Option) *Gate {
	g := &Gate{clock: clock.New(), window: DefaultWindow}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check reports whether outbound calls are currently suppressed and, if so,
// how long until the gate reopens.
func (g *Gate) Check() (blocked bool, remaining time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nextAllowedAt.IsZero() {
		return false, 0
	}
	remaining = g.nextAllowedAt.Sub(g.clock.Now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// Trip closes the gate until now + window. It never moves the deadline
// backwards. It returns the new deadline.
func (g *Gate) Trip() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.clock.Now().Add(g.window)
	if next.After(g.nextAllowedAt) {
		g.nextAllowedAt = next
	}
	return g.nextAllowedAt
}

// Clear reopens the gate for all current and future requests.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextAllowedAt = time.Time{}
}

// NextAllowedAt returns the current deadline, zero when open.
func (g *Gate) NextAllowedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextAllowedAt
}

// Window returns the configured suppression window.
func (g *Gate) Window() time.Duration {
	return g.window
}
