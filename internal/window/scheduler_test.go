package window

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the scheduler deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScheduler(active, pause time.Duration, ceiling int) (*Scheduler, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	s := New(active, pause, ceiling, zerolog.Nop())
	s.now = clock.now
	return s, clock
}

func TestFirstTickEntersActive(t *testing.T) {
	s, _ := newTestScheduler(60*time.Second, 10*time.Second, 3)

	require.Equal(t, ModeUninitialized, s.Mode())
	require.Equal(t, ModeActive, s.Tick())

	status := s.Status()
	assert.Equal(t, "ACTIVE", status.Mode)
	assert.Equal(t, 0, status.OpenedInWindow)
	assert.Equal(t, 3, status.Ceiling)
	assert.Equal(t, 60, status.SecondsRemaining)
	assert.False(t, status.IsPause)
}

func TestCeilingNeverExceeded(t *testing.T) {
	s, clock := newTestScheduler(60*time.Second, 10*time.Second, 3)
	s.Tick()

	// Four intents arrive inside one active window: exactly 3 admitted.
	admitted := 0
	for i := 0; i < 4; i++ {
		if s.Admit() {
			admitted++
		}
		clock.advance(time.Second)
		assert.LessOrEqual(t, s.openedInWindow, 3)
	}
	assert.Equal(t, 3, admitted)

	// The next tick flips to pause because the ceiling was hit.
	assert.Equal(t, ModePause, s.Tick())
	assert.False(t, s.Admit())
}

func TestAdmitSpacing(t *testing.T) {
	s, clock := newTestScheduler(60*time.Second, 10*time.Second, 10)
	s.Tick()

	require.True(t, s.Admit())
	// Second intent 200ms later is rejected by the 1s spacing.
	clock.advance(200 * time.Millisecond)
	assert.False(t, s.Admit())
	assert.Equal(t, 1, s.openedInWindow)

	clock.advance(time.Second)
	assert.True(t, s.Admit())
	assert.Equal(t, 2, s.openedInWindow)
}

func TestActiveDeadlineFlipsToPause(t *testing.T) {
	s, clock := newTestScheduler(60*time.Second, 10*time.Second, 50)
	s.Tick()

	clock.advance(59 * time.Second)
	assert.Equal(t, ModeActive, s.Tick())

	clock.advance(time.Second)
	assert.Equal(t, ModePause, s.Tick())
	assert.False(t, s.Admit())

	status := s.Status()
	assert.True(t, status.IsPause)
	assert.Equal(t, 10, status.SecondsRemaining)
}

func TestPauseExpiryResetsWindow(t *testing.T) {
	s, clock := newTestScheduler(60*time.Second, 10*time.Second, 2)
	s.Tick()
	require.True(t, s.Admit())
	clock.advance(time.Second)
	require.True(t, s.Admit())

	require.Equal(t, ModePause, s.Tick())

	clock.advance(10 * time.Second)
	require.Equal(t, ModeActive, s.Tick())

	// Fresh window: count reset, spacing reset.
	assert.Equal(t, 0, s.openedInWindow)
	assert.True(t, s.Admit())
}

func TestResetReturnsToUninitialized(t *testing.T) {
	s, _ := newTestScheduler(60*time.Second, 10*time.Second, 5)
	s.Tick()
	s.Admit()

	s.Reset()
	assert.Equal(t, ModeUninitialized, s.Mode())
	assert.False(t, s.Admit())

	require.Equal(t, ModeActive, s.Tick())
	assert.Equal(t, 0, s.openedInWindow)
}
