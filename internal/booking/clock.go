package booking

import (
	"context"
	"time"
)

// maxSleepStep bounds a single wait so wall-clock jumps are noticed.
const maxSleepStep = 500 * time.Millisecond

// Clock is the time source of the scheduler and account tasks.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or ctx is done.
	SleepUntil(ctx context.Context, t time.Time) error
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (c systemClock) SleepUntil(ctx context.Context, t time.Time) error {
	for {
		left := time.Until(t)
		if left <= 0 {
			return nil
		}
		if err := c.Sleep(ctx, min(left, maxSleepStep)); err != nil {
			return err
		}
	}
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
