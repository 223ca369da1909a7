package reporter

import (
	"testing"
	"time"
)

func TestFormatMeasuredAtISO8601Millis(t *testing.T) {
	tm := time.Date(2026, 7, 30, 12, 34, 56, 789_000_000, time.UTC)
	got := formatMeasuredAt(tm)
	want := "2026-07-30T12:34:56.789Z"
	if got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestValPointsToDistinctValues(t *testing.T) {
	a := val(1.5)
	b := val(2.5)
	if *a == *b {
		t.Fatal("val should not alias across calls")
	}
}
