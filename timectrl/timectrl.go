package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mode describes how the FrameClock advances simulation time.
type Mode int

const (
	// RealTime emits one frame per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated emits frames as quickly as listeners return while still
	// stepping simulation time by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "realtime" or "accelerated" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "realtime", "real-time":
		return RealTime, nil
	case "accelerated":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("timectrl: unknown mode %q", s)
	}
}

// Listener receives each emitted frame index and its simulation time.
type Listener func(frame int, t time.Time)

// FrameClock drives simulation time in fixed ticks and notifies
// registered listeners once per frame. Frame n is emitted at
// start + n*Tick unless SetTime moved the clock.
type FrameClock struct {
	mu   sync.RWMutex
	tick time.Duration
	mode Mode

	frame   int
	current time.Time

	listeners []Listener
}

// NewFrameClock constructs a clock positioned at frame 0.
func NewFrameClock(start time.Time, tick time.Duration, mode Mode) *FrameClock {
	if tick <= 0 {
		panic(fmt.Sprintf("timectrl: non-positive tick %v", tick))
	}
	return &FrameClock{tick: tick, mode: mode, current: start}
}

// Now returns the simulation time of the next frame to be emitted.
func (c *FrameClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Frame returns the index of the next frame to be emitted.
func (c *FrameClock) Frame() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// Tick returns the simulation time between frames.
func (c *FrameClock) Tick() time.Duration { return c.tick }

// Mode returns the pacing mode.
func (c *FrameClock) Mode() Mode { return c.mode }

// SetTime moves simulation time without changing the frame counter.
func (c *FrameClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// AddListener registers a callback invoked on every frame.
func (c *FrameClock) AddListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Step emits the current frame to every listener, then advances the clock
// by one tick. It returns the emitted frame and time.
func (c *FrameClock) Step() (int, time.Time) {
	c.mu.Lock()
	frame, now := c.frame, c.current
	c.frame++
	c.current = c.current.Add(c.tick)
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(frame, now)
	}
	return frame, now
}

// Start emits frames in a separate goroutine until frames have been
// emitted (frames <= 0 means unbounded) or ctx is cancelled. It returns a
// channel that is closed when the clock stops.
func (c *FrameClock) Start(ctx context.Context, frames int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var ticks <-chan time.Time
		if c.mode == RealTime {
			ticker := time.NewTicker(c.tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		for emitted := 0; frames <= 0 || emitted < frames; emitted++ {
			if emitted > 0 && ticks != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticks:
				}
			} else if ctx.Err() != nil {
				return
			}
			c.Step()
		}
	}()
	return done
}
