// Package ratelimit throttles page fetches per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/poucher/metadata-worker/internal/enrich"
	"github.com/poucher/metadata-worker/internal/metrics"
)

// DefaultIdleTTL is how long an unused host bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// Limiter manages per-host rate limits.
type Limiter struct {
	mu        sync.Mutex
	hosts     map[string]*bucket
	rps       rate.Limit
	burst     int
	maxWait   time.Duration
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling. MaxWait bounds a single Wait (zero means only the caller's
// context does); IdleTTL defaults to DefaultIdleTTL.
type Config struct {
	RPS     float64
	Burst   int
	MaxWait time.Duration
	IdleTTL time.Duration
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Limiter{
		hosts:   make(map[string]*bucket),
		rps:     r,
		burst:   burst,
		maxWait: cfg.MaxWait,
		idleTTL: ttl,
		now:     time.Now,
	}
}

// Wait blocks until a token is available for the host of rawURL. When the
// next token is further away than MaxWait it fails at once without
// consuming one.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.bucketFor(host)

	if l.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for h, b := range l.hosts {
			if now.Sub(b.lastUsed) >= l.idleTTL {
				delete(l.hosts, h)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.hosts[host]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.hosts[host] = b
	}
	b.lastUsed = now
	return b.limiter
}

// Hosts reports how many hosts currently have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Fetcher waits on the limiter before delegating to the wrapped fetcher.
type Fetcher struct {
	next    enrich.Fetcher
	limiter *Limiter
}

// Wrap returns next throttled by l.
func Wrap(next enrich.Fetcher, l *Limiter) *Fetcher {
	return &Fetcher{next: next, limiter: l}
}

// Fetch implements enrich.Fetcher. With MaxWait set, the wait and the
// fetch share one MaxWait budget.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (enrich.Page, error) {
	if f.limiter.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.limiter.maxWait)
		defer cancel()
	}
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return enrich.Page{}, err
	}
	return f.next.Fetch(ctx, rawURL)
}
