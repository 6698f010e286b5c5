package engine

import (
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("attempt %d: want %v, got %v", i, w, got)
		}
	}
}

func TestBackoff_ResetsToBaseAfterSuccess(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset: want 1s, got %v", got)
	}
	if got := b.Next(); got != 2*time.Second {
		t.Fatalf("after reset: want 2s next, got %v", got)
	}
}
