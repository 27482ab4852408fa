package toolrouter

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/sidecar/internal/ratelimit"
)

// mutatingQueue serializes mutating tool calls per (tab, frame), the
// concurrency rule of spec §4.5: "mutating tool calls are serialized per
// (tab, frame)... overflow returns RateLimited". Each key gets its own
// rate.Limiter (golang.org/x/time/rate) so a key that is dispatching
// faster than its allowance is rejected rather than queued indefinitely,
// and a 1-capacity semaphore so only one call per key actually runs at a
// time even when the limiter would allow a burst.
type mutatingQueue struct {
	mu       sync.Mutex
	limiters map[string]*keySlot

	rps   rate.Limit
	burst int
}

type keySlot struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// newMutatingQueue builds a queue allowing rps mutating calls per second
// per (tab,frame) key, with the given burst.
func newMutatingQueue(rps float64, burst int) *mutatingQueue {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 2
	}
	return &mutatingQueue{
		limiters: make(map[string]*keySlot),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (q *mutatingQueue) slotFor(key string) *keySlot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.limiters[key]
	if !ok {
		s = &keySlot{
			limiter: rate.NewLimiter(q.rps, q.burst),
			sem:     make(chan struct{}, 1),
		}
		q.limiters[key] = s
	}
	return s
}

// Acquire reserves exclusive execution for key. It returns ok=false
// (caller must surface CodeRateLimited) if the key's rate allowance is
// exhausted or another call for the same key is already running.
func (q *mutatingQueue) Acquire(key string) (release func(), ok bool) {
	s := q.slotFor(key)
	if !s.limiter.Allow() {
		return nil, false
	}
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, true
	default:
		return nil, false
	}
}

// readThrottle limits the global rate of read-only dispatch with
// internal/ratelimit's token bucket (built for generic request throttling
// in the teacher). It bounds calls per second, not the number of read-only
// calls in flight at once.
type readThrottle struct {
	bucket *ratelimit.Bucket
}

func newReadThrottle(requestsPerSecond float64, burst int) *readThrottle {
	return &readThrottle{bucket: ratelimit.NewBucket(ratelimit.Config{
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         burst,
		Enabled:           true,
	})}
}

func (t *readThrottle) Allow() bool {
	if t == nil || t.bucket == nil {
		return true
	}
	return t.bucket.Allow()
}
