// Package cadence provides the single "ticker at period P with
// skew-correction" utility called for by the design notes, replacing the
// teacher's per-pipeline copy of PeriodicTask.run (scheduler/scheduler.go)
// with one shared implementation used by every cadenced pipeline.
package cadence

import (
	"context"
	"time"
)

// Run calls fn immediately, then repeatedly sleeps max(0, period - elapsed)
// and calls fn again, until ctx is cancelled. Cancellation is observed at
// the sleep boundary so a pipeline terminates within one cycle, per the
// concurrency model's cancellation contract.
func Run(ctx context.Context, period time.Duration, fn func(context.Context)) {
	for {
		start := time.Now()
		fn(ctx)
		if ctx.Err() != nil {
			return
		}
		elapsed := time.Since(start)
		wait := period - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
