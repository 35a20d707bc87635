package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// MemoryLimiter is an in-process sliding-window limiter. IP windows are
// sharded by ip-hash; the global window sits behind its own lock.
type MemoryLimiter struct {
	limits Limits

	shards [shardCount]*shard

	globalMu     sync.Mutex
	globalWindow []time.Time
	lastCleanup  time.Time

	now func() time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryLimiter creates an in-memory limiter
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	l := &MemoryLimiter{
		limits: limits,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}
	l.lastCleanup = l.now()
	return l
}

// SetClock replaces the limiter clock; test hook
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow checks all windows and records the request when admitted
func (l *MemoryLimiter) Allow(ctx context.Context, ipHash string) (Result, error) {
	now := l.now()
	minuteAgo := now.Add(-time.Minute)
	hourAgo := now.Add(-time.Hour)

	sh := l.shards[shardIndex(ipHash)]
	sh.mu.Lock()

	window := prune(sh.windows[ipHash], hourAgo)

	minuteCount := countSince(window, minuteAgo)
	if minuteCount >= l.limits.PerIPPerMinute {
		retry := retryAfter(window, minuteAgo, time.Minute, now)
		sh.windows[ipHash] = window
		sh.mu.Unlock()
		return Result{
			Status:     StatusBlockedIPMinute,
			Allowed:    false,
			RetryAfter: retry,
			Current:    minuteCount,
			Limit:      l.limits.PerIPPerMinute,
		}, nil
	}

	if len(window) >= l.limits.PerIPPerHour {
		retry := retryAfter(window, hourAgo, time.Hour, now)
		sh.windows[ipHash] = window
		sh.mu.Unlock()
		return Result{
			Status:     StatusBlockedIPHour,
			Allowed:    false,
			RetryAfter: retry,
			Current:    len(window),
			Limit:      l.limits.PerIPPerHour,
		}, nil
	}

	// Hold the shard lock across the global check so admit+record is
	// atomic for this ip-hash.
	l.globalMu.Lock()
	l.globalWindow = prune(l.globalWindow, minuteAgo)
	if len(l.globalWindow) >= l.limits.GlobalPerMinute {
		retry := retryAfter(l.globalWindow, minuteAgo, time.Minute, now)
		current := len(l.globalWindow)
		l.globalMu.Unlock()
		sh.mu.Unlock()
		return Result{
			Status:     StatusBlockedGlobal,
			Allowed:    false,
			RetryAfter: retry,
			Current:    current,
			Limit:      l.limits.GlobalPerMinute,
		}, nil
	}
	l.globalWindow = append(l.globalWindow, now)
	l.globalMu.Unlock()

	sh.windows[ipHash] = append(window, now)
	sh.mu.Unlock()

	l.maybeCleanup(now)

	return Result{
		Status:  StatusAllowed,
		Allowed: true,
		Current: minuteCount + 1,
		Limit:   l.limits.PerIPPerMinute,
	}, nil
}

// maybeCleanup drops empty ip windows once a minute to bound memory
func (l *MemoryLimiter) maybeCleanup(now time.Time) {
	l.globalMu.Lock()
	if now.Sub(l.lastCleanup) < time.Minute {
		l.globalMu.Unlock()
		return
	}
	l.lastCleanup = now
	l.globalMu.Unlock()

	hourAgo := now.Add(-time.Hour)
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, window := range sh.windows {
			window = prune(window, hourAgo)
			if len(window) == 0 {
				delete(sh.windows, key)
			} else {
				sh.windows[key] = window
			}
		}
		sh.mu.Unlock()
	}
}

func shardIndex(ipHash string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ipHash))
	return int(h.Sum32() % shardCount)
}

func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	return window[i:]
}

func countSince(window []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func retryAfter(window []time.Time, cutoff time.Time, span time.Duration, now time.Time) time.Duration {
	for _, ts := range window {
		if !ts.Before(cutoff) {
			retry := span - now.Sub(ts)
			if retry < 0 {
				return 0
			}
			return retry
		}
	}
	return 0
}
