package cadence

import (
	"context"
	"testing"
	"time"
)

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	done := make(chan struct{})
	go func() {
		Run(ctx, 10*time.Millisecond, func(context.Context) {
			calls++
			if calls == 2 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop within one cycle of cancellation")
	}
	if calls < 2 {
		t.Fatalf("want at least 2 calls, got %d", calls)
	}
}

func TestRunCallsImmediatelyOnFirstTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	go Run(ctx, time.Hour, func(context.Context) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("fn was not called immediately")
	}
	cancel()
}
