package session

import "time"

// backoff doubles from min up to max. The zero value is not usable.
type backoff struct {
	min, max time.Duration
	delay    time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min > max {
		min = max
	}

	return &backoff{min: min, max: max, delay: min}
}

// Next returns the delay to wait now and advances the sequence.
func (b *backoff) Next() time.Duration {
	delay := b.delay

	b.delay *= 2
	if b.delay > b.max {
		b.delay = b.max
	}

	return delay
}

func (b *backoff) Reset() {
	b.delay = b.min
}
