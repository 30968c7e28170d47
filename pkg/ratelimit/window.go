// Package ratelimit bounds how often linecord calls the LINE square
// messaging subsystem.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Limiter interface {
	// Wait blocks until a permit is granted or ctx is done.
	Wait(ctx context.Context) error
	// Allow grants a permit only if one is free right now.
	Allow() bool
}

// Window is a sliding-log limiter: at most Permits admissions inside any
// rolling interval of length Period. Requests over budget are queued, not
// dropped, and are served one at a time in arrival order.
type Window struct {
	permits int
	period  time.Duration

	mu       sync.Mutex
	admitted []time.Time // oldest first, len <= permits

	turn chan struct{}

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	onAdmit func(time.Time)
}

type Option func(*Window)

// WithClock replaces the time source and the sleep used while queued.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) {
		w.now = now
		w.sleep = sleep
	}
}

func NewWindow(permits int, period time.Duration, opts ...Option) (*Window, error) {
	if permits <= 0 {
		return nil, fmt.Errorf("ratelimit: permits must be positive, got %d", permits)
	}
	if period <= 0 {
		return nil, fmt.Errorf("ratelimit: period must be positive, got %v", period)
	}
	w := &Window{
		permits:  permits,
		period:   period,
		admitted: make([]time.Time, 0, permits),
		turn:     make(chan struct{}, 1),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Window) Wait(ctx context.Context) error {
	select {
	case w.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.turn }()

	for {
		delay, ok := w.reserve()
		if ok {
			return nil
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *Window) Allow() bool {
	select {
	case w.turn <- struct{}{}:
	default:
		return false
	}
	defer func() { <-w.turn }()

	_, ok := w.reserve()
	return ok
}

// InFlight reports how many admissions fall inside the current window.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.admitted)
}

// reserve records an admission if the window has room. Otherwise it
// returns how long until the oldest admission leaves the window.
func (w *Window) reserve() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	if len(w.admitted) < w.permits {
		w.admitted = append(w.admitted, now)
		if w.onAdmit != nil {
			w.onAdmit(now)
		}
		return 0, true
	}
	return w.admitted[0].Add(w.period).Sub(now), false
}

func (w *Window) pruneLocked(now time.Time) {
	n := 0
	for n < len(w.admitted) && now.Sub(w.admitted[n]) >= w.period {
		n++
	}
	if n > 0 {
		w.admitted = append(w.admitted[:0], w.admitted[n:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlimited admits everything. Used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (Unlimited) Allow() bool { return true }
