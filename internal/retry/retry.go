// Package retry runs an operation with bounded attempts and a caller-supplied
// backoff schedule, reporting the outcome as a value instead of an error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffFunc returns the wait before attempt n+1, given that attempt n failed.
type BackoffFunc func(attempt int) time.Duration

// MaxBackoff caps a single wait from Exponential.
const MaxBackoff = time.Hour

// Exponential waits 2^(attempt-1) * base: base, 2*base, 4*base, ... capped
// at MaxBackoff.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := min(base, MaxBackoff)
		for i := 1; i < attempt; i++ {
			if d >= MaxBackoff/2 {
				return MaxBackoff
			}
			d *= 2
		}
		return d
	}
}

type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// NewTimer is optional; tests inject timers that fire immediately.
	NewTimer func() backoff.Timer
	// Notify is called after a failed attempt that will be retried.
	Notify func(attempt int, err error, wait time.Duration)
}

type Result struct {
	Attempts int
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Do runs op until it succeeds, MaxAttempts is reached, or ctx is done.
// There is no wait after the final attempt.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	fn := p.Backoff
	if fn == nil {
		fn = Exponential(time.Second)
	}

	var res Result
	sched := &schedule{fn: fn, max: maxAttempts}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, wait time.Duration) {
			p.Notify(res.Attempts, err, wait)
		}
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	} else {
		timer = NewTimer()
	}

	res.Err = backoff.RetryNotifyWithTimer(func() error {
		res.Attempts++
		return op(ctx)
	}, backoff.WithContext(sched, ctx), notify, timer)

	return res
}

// schedule adapts a BackoffFunc to backoff.BackOff and stops after max attempts.
type schedule struct {
	fn      BackoffFunc
	max     int
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	if s.attempt >= s.max {
		return backoff.Stop
	}
	return s.fn(s.attempt)
}

func (s *schedule) Reset() {
	s.attempt = 0
}

type realTimer struct {
	timer *time.Timer
}

// NewTimer returns a backoff.Timer backed by time.Timer.
func NewTimer() backoff.Timer {
	return &realTimer{}
}

func (t *realTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *realTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}

// Wait blocks for d on a fresh timer from newTimer or until ctx is done.
func Wait(ctx context.Context, newTimer func() backoff.Timer, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if newTimer == nil {
		newTimer = NewTimer
	}
	t := newTimer()
	defer t.Stop()
	t.Start(d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
