// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit throttles bridge clients with one token bucket per
// client address.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PerMinute is the sustained number of requests a client may make.
	PerMinute int `yaml:"per_minute" json:"per_minute"`

	// Burst defaults to PerMinute.
	Burst int `yaml:"burst" json:"burst"`

	// IdleTimeout is how long an unused client bucket is kept.
	// Defaults to 10 minutes.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a set of per-client token buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	enabled bool
	idle    time.Duration
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New returns a Limiter. A nil or disabled config allows everything.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.PerMinute
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = 10 * time.Minute
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:   burst,
		enabled: cfg.Enabled,
		idle:    idle,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if l.enabled {
		go l.sweepLoop()
	}
	return l
}

func (l *Limiter) bucket(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	if !l.enabled {
		return true
	}
	return l.bucket(client).Allow()
}

// Wait blocks until client may make a request or ctx is done.
func (l *Limiter) Wait(ctx context.Context, client string) error {
	if !l.enabled {
		return nil
	}
	return l.bucket(client).Wait(ctx)
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle for longer than the idle timeout.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for client, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, client)
		}
	}
}

// Stop stops the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware rejects requests over the limit with 429.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ClientIP(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP identifies the caller of r. X-Forwarded-For and X-Real-IP take
// precedence over the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
