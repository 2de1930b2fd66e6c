package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires as soon as it is started and records the requested wait.
type instantTimer struct {
	rec *waits
	c   chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.rec.add(d)
	t.c <- time.Now()
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type waits struct {
	mu sync.Mutex
	d  []time.Duration
}

func (w *waits) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.d = append(w.d, d)
}

func (w *waits) factory() func() backoff.Timer {
	return func() backoff.Timer {
		return &instantTimer{rec: w, c: make(chan time.Time, 1)}
	}
}

func TestExponential(t *testing.T) {
	fn := Exponential(time.Second)
	assert.Equal(t, time.Second, fn(1))
	assert.Equal(t, 2*time.Second, fn(2))
	assert.Equal(t, 4*time.Second, fn(3))
}

func TestExponentialIsCapped(t *testing.T) {
	fn := Exponential(time.Second)
	assert.Equal(t, MaxBackoff, fn(13))
	assert.Equal(t, MaxBackoff, fn(40))
	assert.Equal(t, MaxBackoff, fn(200))
	assert.Equal(t, time.Second, fn(0))
	assert.Equal(t, time.Duration(0), Exponential(0)(5))
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	w := &waits{}
	res := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), NewTimer: w.factory()},
		func(context.Context) error { return nil })

	assert.True(t, res.OK())
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, w.d)
}

func TestDoSucceedsOnSecondAttempt(t *testing.T) {
	w := &waits{}
	calls := 0
	res := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), NewTimer: w.factory()},
		func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("temporary")
			}
			return nil
		})

	assert.True(t, res.OK())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, w.d)
}

func TestDoExhaustsWithoutTrailingWait(t *testing.T) {
	w := &waits{}
	boom := errors.New("smtp 421")
	var notified []int

	res := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second),
		NewTimer:    w.factory(),
		Notify:      func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
	}, func(context.Context) error { return boom })

	assert.False(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, w.d)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoSingleAttempt(t *testing.T) {
	w := &waits{}
	res := Do(context.Background(), Policy{MaxAttempts: 1, NewTimer: w.factory()},
		func(context.Context) error { return errors.New("nope") })

	assert.Equal(t, 1, res.Attempts)
	assert.Error(t, res.Err)
	assert.Empty(t, w.d)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := Do(ctx, Policy{MaxAttempts: 5, Backoff: Exponential(time.Hour)},
		func(context.Context) error {
			cancel()
			return errors.New("fail")
		})

	assert.Equal(t, 1, res.Attempts)
	assert.Error(t, res.Err)
}

func TestWait(t *testing.T) {
	w := &waits{}
	require.NoError(t, Wait(context.Background(), w.factory(), 2*time.Second))
	assert.Equal(t, []time.Duration{2 * time.Second}, w.d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, nil, time.Hour), context.Canceled)
}
