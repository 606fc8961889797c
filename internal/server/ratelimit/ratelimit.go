// Package ratelimit provides token-bucket limiters keyed by an arbitrary
// string such as an account id or a client address.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxKeys bounds the limiter map; when exceeded, idle limiters are dropped.
const maxKeys = 10000

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// New allows burst events at once per key, refilled at one event per
// interval.
func New(interval time.Duration, burst int) *Keyed {
	return &Keyed{
		limiters: make(map[string]*entry),
		rate:     rate.Every(interval),
		burst:    burst,
		now:      time.Now,
	}
}

// NewPerSecond allows rps events per second per key.
func NewPerSecond(rps float64, burst int) *Keyed {
	k := New(time.Second, burst)
	k.rate = rate.Limit(rps)
	return k
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	e, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxKeys {
			k.evictIdle(now)
		}
		e = &entry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// evictIdle drops limiters that have had time to refill completely.
func (k *Keyed) evictIdle(now time.Time) {
	full := time.Duration(float64(k.burst) / float64(k.rate) * float64(time.Second))
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > full {
			delete(k.limiters, key)
		}
	}
}

// Allow reports whether an event for key may happen now and consumes a
// token if so.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).AllowN(k.now(), 1)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
