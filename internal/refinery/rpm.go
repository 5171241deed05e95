package refinery

import (
	"time"

	"github.com/jordanhubbard/rigs/internal/bucket"
)

// rpmBucket wraps a TokenBucket with C = rpm, r = rpm/60 (§4.1 table).
type rpmBucket struct {
	b *bucket.TokenBucket
}

func newRPMBucket(rpm float64, now time.Time) *rpmBucket {
	return &rpmBucket{b: bucket.New(rpm, rpm/60, now)}
}

func (r *rpmBucket) tryConsume(now time.Time) bool {
	return r.b.TryConsume(1, now)
}

func (r *rpmBucket) timeUntil(now time.Time) time.Duration {
	return r.b.TimeUntil(1, now)
}
