package breaker

import (
	"testing"
	"time"
)

func TestBreakerSkipsDuringCooldown(t *testing.T) {
	b := NewWithCooldown(50 * time.Millisecond)
	if b.ShouldSkip("plant-1") {
		t.Fatal("fresh breaker should not skip")
	}
	b.OnFailure("plant-1")
	if !b.ShouldSkip("plant-1") {
		t.Fatal("should skip immediately after failure")
	}
	time.Sleep(60 * time.Millisecond)
	if b.ShouldSkip("plant-1") {
		t.Fatal("should allow one attempt after cooldown elapses")
	}
}

func TestBreakerOnSuccessClears(t *testing.T) {
	b := New()
	b.OnFailure("pod-A")
	b.OnSuccess("pod-A")
	if b.ShouldSkip("pod-A") {
		t.Fatal("success should clear the cooldown")
	}
}

func TestBreakerConcurrentAccess(t *testing.T) {
	b := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			key := "device"
			b.OnFailure(key)
			b.ShouldSkip(key)
			b.OnSuccess(key)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
