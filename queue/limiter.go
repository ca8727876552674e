package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config is the default admission rate applied to every client.
type Config struct {
	// RateLimit is the sustained creations per second per client. Zero
	// disables throttling.
	RateLimit float64

	// RateBurst is the bucket size. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// ClientConfig overrides the default rate for one client.
type ClientConfig struct {
	ClientID  string
	RateLimit float64
	RateBurst int
}

// Limiter throttles job creation per client. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	buckets   map[string]*rate.Limiter
}

// NewLimiter creates a Limiter applying cfg to every client.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		defaults:  cfg,
		overrides: make(map[string]Config),
		buckets:   make(map[string]*rate.Limiter),
	}
}

func newBucket(cfg Config) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// Allow consumes one token for clientID and reports whether the creation
// may proceed.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[clientID]
	if !ok {
		cfg, overridden := l.overrides[clientID]
		if !overridden {
			cfg = l.defaults
		}
		b = newBucket(cfg)
		l.buckets[clientID] = b
	}
	return b == nil || b.Allow()
}

// SetClientConfig replaces the rate for one client. The client's bucket
// restarts full.
func (l *Limiter) SetClientConfig(cfg ClientConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[cfg.ClientID] = Config{RateLimit: cfg.RateLimit, RateBurst: cfg.RateBurst}
	delete(l.buckets, cfg.ClientID)
}
