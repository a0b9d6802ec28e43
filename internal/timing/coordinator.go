// Package timing drives the per-question countdown. Every advance trigger
// (natural expiry, next, skip, stop) funnels through a single transition,
// so boundary logic lives in exactly one place.
package timing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRecordingActive rejects duration changes while the countdown runs.
	ErrRecordingActive = errors.New("cannot change duration while recording")
	// ErrNotRecording rejects triggers outside an active countdown.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrInvalidDuration rejects non-positive durations.
	ErrInvalidDuration = errors.New("duration must be positive")
)

// Trigger identifies what caused a transition. Skip is semantically identical
// to Next; the distinct label exists only for telemetry.
type Trigger string

const (
	TriggerExpiry Trigger = "expiry"
	TriggerNext   Trigger = "next"
	TriggerSkip   Trigger = "skip"
	TriggerStop   Trigger = "stop"
)

// TransitionFunc receives every advance/stop transition. It runs on the tick
// goroutine for expiry and on the caller's goroutine for manual triggers; it
// must call Reset or Halt on the coordinator to continue or end the session.
type TransitionFunc func(Trigger)

// Coordinator runs one countdown per active question, decrementing once per
// tick interval while recording.
type Coordinator struct {
	mu         sync.Mutex
	duration   time.Duration
	remaining  time.Duration
	interval   time.Duration
	recording  bool
	cancelTick chan struct{}
	transition TransitionFunc
	log        zerolog.Logger
}

// NewCoordinator creates a coordinator with the given per-question duration.
// interval is the tick period, one second in production and shorter in tests.
func NewCoordinator(duration, interval time.Duration, transition TransitionFunc, log zerolog.Logger) (*Coordinator, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("duration %s: %w", duration, ErrInvalidDuration)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Coordinator{
		duration:   duration,
		remaining:  duration,
		interval:   interval,
		transition: transition,
		log:        log.With().Str("component", "timing").Logger(),
	}, nil
}

// SetDuration changes the configured per-question duration. Only permitted
// while not recording.
func (c *Coordinator) SetDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration %s: %w", d, ErrInvalidDuration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return ErrRecordingActive
	}
	c.duration = d
	c.remaining = d
	return nil
}

// Duration returns the configured per-question duration.
func (c *Coordinator) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Remaining returns the time left on the current countdown.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Recording reports whether a countdown is active.
func (c *Coordinator) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Start begins the countdown for the active question.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return nil
	}
	c.recording = true
	c.remaining = c.duration
	c.cancelTick = make(chan struct{})
	go c.tickLoop(c.cancelTick)
	c.log.Debug().Dur("duration", c.duration).Msg("countdown started")
	return nil
}

// Reset restarts the countdown at the configured duration for the next
// question. Called by the transition handler when more questions remain.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = c.duration
}

// Halt ends the countdown. Called by the transition handler on completion.
func (c *Coordinator) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haltLocked()
}

func (c *Coordinator) haltLocked() {
	if !c.recording {
		return
	}
	c.recording = false
	close(c.cancelTick)
	c.cancelTick = nil
}

// Next advances to the following question before the countdown expires.
func (c *Coordinator) Next() error { return c.fire(TriggerNext) }

// Skip is Next under a different telemetry label; capture behavior is
// unchanged.
func (c *Coordinator) Skip() error { return c.fire(TriggerSkip) }

// Stop ends the recording immediately with no further advance.
func (c *Coordinator) Stop() error { return c.fire(TriggerStop) }

func (c *Coordinator) fire(t Trigger) error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.mu.Unlock()

	c.log.Debug().Str("trigger", string(t)).Msg("manual transition")
	c.transition(t)
	return nil
}

func (c *Coordinator) tickLoop(cancel <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.recording {
				c.mu.Unlock()
				return
			}
			c.remaining -= c.interval
			expired := c.remaining <= 0
			if expired {
				c.remaining = 0
			}
			c.mu.Unlock()

			if expired {
				c.transition(TriggerExpiry)
				// The handler either Reset the countdown or Halted it;
				// in the halted case the next select sees cancel closed.
				c.mu.Lock()
				halted := !c.recording
				c.mu.Unlock()
				if halted {
					return
				}
			}
		}
	}
}
