package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newMockGate() (*Gate, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	return New(WithClock(mock)), mock
}

func TestGate_OpenByDefault(t *testing.T) {
	g, _ := newMockGate()
	blocked, remaining := g.Check()
	assert.False(t, blocked)
	assert.Zero(t, remaining)
	assert.True(t, g.NextAllowedAt().IsZero())
}

func TestGate_TripBlocksForWindow(t *testing.T) {
	g, mock := newMockGate()
	tripped := mock.Now()
	g.Trip()

	assert.Equal(t, tripped.Add(45*time.Second), g.NextAllowedAt())

	for _, offset := range []time.Duration{0, time.Millisecond, 30 * time.Second, 44999 * time.Millisecond} {
		mock.Set(tripped.Add(offset))
		blocked, remaining := g.Check()
		assert.True(t, blocked, "offset %v", offset)
		assert.Equal(t, 45*time.Second-offset, remaining)
	}

	mock.Set(tripped.Add(45 * time.Second))
	blocked, _ := g.Check()
	assert.False(t, blocked)
}

func TestGate_ClearReopensImmediately(t *testing.T) {
	g, mock := newMockGate()
	g.Trip()
	mock.Add(time.Second)
	g.Clear()

	mock.Add(time.Millisecond)
	blocked, _ := g.Check()
	assert.False(t, blocked)
	assert.True(t, g.NextAllowedAt().IsZero())
}

func TestGate_TripNeverMovesBackwards(t *testing.T) {
	mock := clock.NewMock()
	g := New(WithClock(mock), WithWindow(10*time.Second))
	g.Trip()
	first := g.NextAllowedAt()

	g.window = time.Second
	g.Trip()
	assert.Equal(t, first, g.NextAllowedAt())

	mock.Add(20 * time.Second)
	g.Trip()
	assert.Equal(t, mock.Now().Add(time.Second), g.NextAllowedAt())
}

func TestGate_WithWindowIgnoresNonPositive(t *testing.T) {
	g := New(WithWindow(0))
	assert.Equal(t, DefaultWindow, g.Window())
}

func TestGate_ConcurrentAccess(t *testing.T) {
	g, _ := newMockGate()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); g.Trip() }()
		go func() { defer wg.Done(); g.Clear() }()
		go func() { defer wg.Done(); g.Check() }()
	}
	wg.Wait()
}
