// Package ratelimit is an in-process quota decision service: one token
// bucket per user, refilled continuously over a fixed period.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"multichat/internal/domain"
)

// Limiter grants each user Capacity messages per Period.
type Limiter struct {
	capacity int
	every    rate.Limit
	period   time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	users     map[string]*rate.Limiter
	lastPrune time.Time
}

func New(capacity int, period time.Duration) (*Limiter, error) {
	if capacity <= 0 {
		return nil, errors.New("ratelimit: capacity must be positive")
	}
	if period <= 0 {
		return nil, errors.New("ratelimit: period must be positive")
	}
	return &Limiter{
		capacity: capacity,
		every:    rate.Every(period / time.Duration(capacity)),
		period:   period,
		now:      time.Now,
		users:    make(map[string]*rate.Limiter),
	}, nil
}

// Decide consumes requested tokens for identity. requested <= 0 reports the
// remainder without consuming; it is allowed while any token is left.
func (l *Limiter) Decide(_ context.Context, identity string, requested int) (domain.QuotaDecision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.QuotaDecision{}, errors.New("ratelimit: identity is required")
	}
	now := l.now()
	lim := l.userLimiter(identity, now)

	if requested <= 0 {
		left := remaining(lim, now)
		return domain.QuotaDecision{Allowed: left > 0, Remaining: left}, nil
	}
	allowed := lim.AllowN(now, requested)
	return domain.QuotaDecision{Allowed: allowed, Remaining: remaining(lim, now)}, nil
}

func remaining(lim *rate.Limiter, now time.Time) int {
	return int(math.Max(0, math.Floor(lim.TokensAt(now))))
}

func (l *Limiter) userLimiter(identity string, now time.Time) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.users[identity]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.users[identity]; ok {
		return lim
	}
	l.pruneLocked(now)
	lim = rate.NewLimiter(l.every, l.capacity)
	l.users[identity] = lim
	return lim
}

// pruneLocked drops buckets that have refilled completely; a fresh bucket
// behaves the same. Runs at most once per period.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.period {
		return
	}
	l.lastPrune = now
	for id, lim := range l.users {
		if lim.TokensAt(now) >= float64(l.capacity) {
			delete(l.users, id)
		}
	}
}

func (l *Limiter) tracked() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}
