package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreTryAcquire(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("expected two successful acquires")
	}
	if s.TryAcquire() {
		t.Fatal("third acquire should fail")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
	if s.Cap() != 2 || s.Available() != 0 {
		t.Errorf("cap=%d available=%d", s.Cap(), s.Available())
	}
}

func TestSemaphoreAcquireRespectsContext(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected context error on full semaphore")
	}
}

func TestSemaphoreZeroCap(t *testing.T) {
	s := NewSemaphore(0)
	if s.Cap() != 1 {
		t.Errorf("cap = %d, want 1", s.Cap())
	}
}
