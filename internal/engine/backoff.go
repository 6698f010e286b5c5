package engine

import "time"

// backoff produces the reconnect delay sequence: base, 2*base, 4*base, ...
// capped at max. Reset returns it to base after a successful open.
type backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, next: base}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *backoff) Reset() {
	b.next = b.base
}
