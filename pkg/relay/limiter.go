package relay

import (
	"sync"
	"time"
)

// ConnLimiter caps concurrent relay connections per source IP.
type ConnLimiter struct {
	mu       sync.Mutex
	active   map[string]int
	maxPerIP int
}

// NewConnLimiter creates a limiter allowing maxPerIP concurrent connections
// from one address. Zero or negative disables the cap.
func NewConnLimiter(maxPerIP int) *ConnLimiter {
	return &ConnLimiter{
		active:   make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// Acquire reserves a connection slot for the IP. It reports false when the
// address is at its cap.
func (l *ConnLimiter) Acquire(ip string) bool {
	if l.maxPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[ip] >= l.maxPerIP {
		return false
	}
	l.active[ip]++
	return true
}

// Release frees a connection slot for the IP.
func (l *ConnLimiter) Release(ip string) {
	if l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[ip] > 0 {
		l.active[ip]--
		if l.active[ip] == 0 {
			delete(l.active, ip) // keep the map from growing unbounded
		}
	}
}

// RegisterLimiter bounds the rate of registrations with a token bucket.
type RegisterLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int     // bucket size
	tokens     float64
	lastRefill time.Time
}

// NewRegisterLimiter creates a limiter refilling at rate registrations per
// second with the given burst. A non-positive rate disables limiting.
func NewRegisterLimiter(rate float64, burst int) *RegisterLimiter {
	return &RegisterLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (l *RegisterLimiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}
