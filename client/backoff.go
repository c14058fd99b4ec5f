package client

import (
	"math/rand"
	"time"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// backoff implements capped exponential backoff with equal jitter. A fixed
// reconnect delay synchronizes clients into reconnect storms after a server
// restart; jitter spreads them out.
type backoff struct {
	min, max time.Duration
	attempts int
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = defaultMinBackoff
	}
	if max < min {
		max = defaultMaxBackoff
	}
	return &backoff{min: min, max: max}
}

func (b *backoff) next() time.Duration {
	d := b.min
	for i := 0; i < b.attempts; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	b.attempts++

	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (b *backoff) reset() {
	b.attempts = 0
}
