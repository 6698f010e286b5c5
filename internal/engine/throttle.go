package engine

import "time"

// throttle enforces the minimum interval between outbound publishes. At most
// one deferred publish is armed at a time; requests arriving while one is
// armed coalesce into it.
type throttle struct {
	interval time.Duration
	lastSent time.Time
	armed    bool
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// request is called for every publish attempt. It returns sendNow when the
// interval has elapsed, or a positive delay when a deferred timer should be
// armed for the remaining wait. Both false and zero means a timer is already
// armed and this request coalesces into it.
func (t *throttle) request(now time.Time) (sendNow bool, delay time.Duration) {
	if t.armed {
		return false, 0
	}
	elapsed := now.Sub(t.lastSent)
	if elapsed >= t.interval {
		return true, 0
	}
	t.armed = true
	return false, t.interval - elapsed
}

// fired acknowledges the deferred timer firing; the caller publishes next.
func (t *throttle) fired() {
	t.armed = false
}

// sent records a completed publish, forced or not.
func (t *throttle) sent(now time.Time) {
	t.lastSent = now
}

// cancel disarms any pending deferred publish.
func (t *throttle) cancel() {
	t.armed = false
}
