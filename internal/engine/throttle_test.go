package engine

import (
	"testing"
	"time"
)

func TestThrottle_ImmediateWhenIdle(t *testing.T) {
	th := newThrottle(70 * time.Millisecond)
	now := time.Now()
	sendNow, delay := th.request(now)
	if !sendNow || delay != 0 {
		t.Fatalf("idle throttle should publish immediately, got sendNow=%v delay=%v", sendNow, delay)
	}
}

func TestThrottle_DefersWithinInterval(t *testing.T) {
	th := newThrottle(70 * time.Millisecond)
	now := time.Now()
	th.sent(now)

	sendNow, delay := th.request(now.Add(30 * time.Millisecond))
	if sendNow {
		t.Fatalf("expected deferral inside the interval")
	}
	if delay != 40*time.Millisecond {
		t.Fatalf("expected 40ms of remaining wait, got %v", delay)
	}

	// further requests coalesce into the armed timer
	sendNow, delay = th.request(now.Add(40 * time.Millisecond))
	if sendNow || delay != 0 {
		t.Fatalf("expected coalescing while armed, got sendNow=%v delay=%v", sendNow, delay)
	}

	th.fired()
	th.sent(now.Add(70 * time.Millisecond))
	sendNow, _ = th.request(now.Add(200 * time.Millisecond))
	if !sendNow {
		t.Fatalf("expected immediate publish after interval elapsed")
	}
}

// 200 requests over one second with a 70ms interval must produce at most
// ceil(1000/70)+1 publishes, never one per request.
func TestThrottle_BoundsPublishRate(t *testing.T) {
	const interval = 70 * time.Millisecond
	th := newThrottle(interval)
	base := time.Now()

	sends := 0
	var fireAt time.Time
	for i := 0; i < 200; i++ {
		now := base.Add(time.Duration(i) * 5 * time.Millisecond)
		if !fireAt.IsZero() && !now.Before(fireAt) {
			th.fired()
			sends++
			th.sent(fireAt)
			fireAt = time.Time{}
		}
		sendNow, delay := th.request(now)
		switch {
		case sendNow:
			sends++
			th.sent(now)
		case delay > 0:
			fireAt = now.Add(delay)
		}
	}
	if !fireAt.IsZero() {
		sends++ // the trailing armed publish
	}

	limit := int((time.Second+interval-1)/interval) + 1 // ceil(1000/70)+1
	if sends > limit {
		t.Fatalf("throttle let %d publishes through, limit %d", sends, limit)
	}
	if sends < 10 {
		t.Fatalf("throttle too aggressive, only %d publishes", sends)
	}
}
