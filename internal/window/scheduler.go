// Package window owns the active/pause admission state machine. Bursty
// decision sources are rate-bounded into admission windows so the venue's
// order throughput is respected and the risk governor gets natural cool-down
// periods to re-evaluate equity between bursts.
package window

import (
	"time"

	"github.com/rs/zerolog"
)

// Mode is the admission state.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeActive
	ModePause
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "ACTIVE"
	case ModePause:
		return "PAUSE"
	default:
		return "UNINITIALIZED"
	}
}

// minAdmitSpacing is the minimum gap between two admitted orders. It keeps a
// runaway decision source from machine-gunning the venue inside one window.
const minAdmitSpacing = time.Second

// Status is the externally visible window snapshot, published to the status
// record every tick for viewers such as the supervising console.
type Status struct {
	Mode             string `json:"mode"`
	OpenedInWindow   int    `json:"opened_in_window"`
	Ceiling          int    `json:"ceiling"`
	SecondsRemaining int    `json:"seconds_remaining"`
	IsPause          bool   `json:"is_pause"`
}

// Scheduler is the admission state machine. It is owned by a single control
// loop and is not safe for concurrent use.
type Scheduler struct {
	activeDur time.Duration
	pauseDur  time.Duration
	ceiling   int

	mode           Mode
	openedInWindow int
	activeDeadline time.Time
	pauseDeadline  time.Time
	lastAdmit      time.Time

	log zerolog.Logger
	now func() time.Time
}

// New creates a scheduler in the UNINITIALIZED state; the first Tick enters
// an active window.
func New(active, pause time.Duration, ceiling int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		activeDur: active,
		pauseDur:  pause,
		ceiling:   ceiling,
		mode:      ModeUninitialized,
		log:       log,
		now:       time.Now,
	}
}

// Mode returns the current admission mode.
func (s *Scheduler) Mode() Mode {
	return s.mode
}

// Reset returns the scheduler to UNINITIALIZED. Used when trading resumes
// after a multi-day halt so the first tick opens a fresh active window.
func (s *Scheduler) Reset() {
	s.mode = ModeUninitialized
	s.openedInWindow = 0
	s.lastAdmit = time.Time{}
}

// Tick advances the state machine and returns the resulting mode.
func (s *Scheduler) Tick() Mode {
	now := s.now()

	switch s.mode {
	case ModeUninitialized:
		s.enterActive(now)

	case ModeActive:
		if !now.Before(s.activeDeadline) || s.openedInWindow >= s.ceiling {
			s.mode = ModePause
			s.pauseDeadline = now.Add(s.pauseDur)
			s.log.Info().
				Int("opened", s.openedInWindow).
				Int("ceiling", s.ceiling).
				Dur("pause", s.pauseDur).
				Msg("window mode PAUSE")
		}

	case ModePause:
		if !now.Before(s.pauseDeadline) {
			s.enterActive(now)
		}
	}

	return s.mode
}

func (s *Scheduler) enterActive(now time.Time) {
	s.mode = ModeActive
	s.activeDeadline = now.Add(s.activeDur)
	s.openedInWindow = 0
	s.lastAdmit = time.Time{}
	s.log.Info().
		Dur("active", s.activeDur).
		Int("ceiling", s.ceiling).
		Msg("window mode ACTIVE")
}

// Admit reports whether one order may be submitted now. On admission the
// per-window count and the admission timestamp advance; a denial changes
// nothing. Admission requires an active window with headroom under the
// ceiling and at least minAdmitSpacing since the previous admission.
func (s *Scheduler) Admit() bool {
	if s.mode != ModeActive {
		return false
	}
	if s.openedInWindow >= s.ceiling {
		return false
	}
	now := s.now()
	if !s.lastAdmit.IsZero() && now.Sub(s.lastAdmit) < minAdmitSpacing {
		return false
	}
	s.openedInWindow++
	s.lastAdmit = now
	return true
}

// Status builds the externally published snapshot.
func (s *Scheduler) Status() Status {
	now := s.now()
	var remaining time.Duration
	switch s.mode {
	case ModeActive:
		remaining = s.activeDeadline.Sub(now)
	case ModePause:
		remaining = s.pauseDeadline.Sub(now)
	}
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Mode:             s.mode.String(),
		OpenedInWindow:   s.openedInWindow,
		Ceiling:          s.ceiling,
		SecondsRemaining: int(remaining.Seconds()),
		IsPause:          s.mode == ModePause,
	}
}
