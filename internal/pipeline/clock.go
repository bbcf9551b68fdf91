package pipeline

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so sessions can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
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

// waitUntil polls the clock until it reaches deadline (epoch ms).
func waitUntil(ctx context.Context, clock Clock, deadline int64, poll time.Duration) error {
	for clock.Now().UnixMilli() < deadline {
		if err := clock.Sleep(ctx, poll); err != nil {
			return err
		}
	}
	return nil
}
