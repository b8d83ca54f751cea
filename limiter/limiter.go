// Package limiter implements the admission gate guarding the submission
// boundary: a per-client sliding window over two granularities. The check
// and the recording of the new timestamp happen in one critical section,
// and a client's record is deleted as soon as its window empties, so
// memory is bounded by the number of currently active clients.
package limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"time"
)

// Default ceilings, matching the submission boundary's documented limits.
const (
	DefaultPerSecond = 10
	DefaultPerMinute = 60
)

const (
	secondWindow = time.Second
	minuteWindow = time.Minute
)

// Limiter is the admission contract the submission boundary evaluates
// before accepting a request. Implementations never block.
type Limiter interface {
	// Allow reports whether one request from the client is admitted,
	// recording it if so. On rejection it returns the wait hint until the
	// tightest violated window frees a slot.
	Allow(clientKey string) (bool, time.Duration)
}

// Options for the sliding-window limiter.
type Options struct {
	// PerSecond is the ceiling over any trailing one-second window.
	PerSecond int
	// PerMinute is the ceiling over any trailing one-minute window.
	PerMinute int
}

// DefaultOptions returns the default ceilings.
func DefaultOptions() Options {
	return Options{PerSecond: DefaultPerSecond, PerMinute: DefaultPerMinute}
}

// SlidingWindow is a process-local admission limiter. Allow never blocks;
// it is a synchronous check safe for concurrent use.
type SlidingWindow struct {
	mu        sync.Mutex
	clients   map[string][]time.Time
	perSecond int
	perMinute int
	lastSweep time.Time

	now func() time.Time // swappable for tests
}

// New creates a sliding-window limiter.
func New(options Options) *SlidingWindow {
	if options.PerSecond <= 0 {
		options.PerSecond = DefaultPerSecond
	}
	if options.PerMinute <= 0 {
		options.PerMinute = DefaultPerMinute
	}
	return &SlidingWindow{
		clients:   make(map[string][]time.Time),
		perSecond: options.PerSecond,
		perMinute: options.PerMinute,
		now:       time.Now,
	}
}

// Allow evaluates and, when admitted, records one request from the client
// in a single critical section. On rejection it returns the time until the
// oldest timestamp in the tightest violated window expires.
func (l *SlidingWindow) Allow(clientKey string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(clientKey, now)
	l.sweepLocked(now)

	window := l.clients[clientKey]

	var inSecond int
	var oldestInSecond time.Time
	for _, ts := range window {
		if now.Sub(ts) < secondWindow {
			if inSecond == 0 {
				oldestInSecond = ts
			}
			inSecond++
		}
	}

	if inSecond >= l.perSecond {
		return false, oldestInSecond.Add(secondWindow).Sub(now)
	}
	if len(window) >= l.perMinute {
		return false, window[0].Add(minuteWindow).Sub(now)
	}

	l.clients[clientKey] = append(window, now)
	return true, 0
}

// Len returns the number of clients with live state.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// pruneLocked drops timestamps older than the widest window and deletes
// the record entirely when it empties. Caller holds the lock.
func (l *SlidingWindow) pruneLocked(clientKey string, now time.Time) {
	window, ok := l.clients[clientKey]
	if !ok {
		return
	}

	// Timestamps are appended in order; find the first still inside the
	// minute window.
	keep := 0
	for keep < len(window) && now.Sub(window[keep]) >= minuteWindow {
		keep++
	}

	if keep == len(window) {
		delete(l.clients, clientKey)
		return
	}
	if keep > 0 {
		l.clients[clientKey] = append([]time.Time(nil), window[keep:]...)
	}
}

// sweepLocked evicts every aged-out client once per widest window, so idle
// clients cannot accumulate behind a single busy one. Caller holds the lock.
func (l *SlidingWindow) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < minuteWindow {
		return
	}
	l.lastSweep = now

	for key := range l.clients {
		l.pruneLocked(key, now)
	}
}

// ClientKey derives a stable, privacy-preserving client identifier from
// the connection address, preferring the first X-Forwarded-For hop when a
// proxy sits in front.
func ClientKey(remoteAddr, forwardedFor string) string {
	ip := remoteAddr
	if forwardedFor != "" {
		ip = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	} else if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	if ip == "" {
		ip = "unknown"
	}

	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}
