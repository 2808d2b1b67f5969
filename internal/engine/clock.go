package engine

import (
	"context"
	"time"
)

// Clock abstracts time so tests can drive cycles without real delays.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is canceled, whichever is first.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
