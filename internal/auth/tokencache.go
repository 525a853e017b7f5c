// Package auth holds the in-memory auth token cache the ingest endpoint
// authenticates snapshots against. Tokens are loaded wholesale from the
// accounts table and refreshed periodically; a lookup miss on a stale
// cache triggers one serialized refresh-and-retry so a newly registered
// account starts ingesting without waiting for the next timer tick.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshInterval is how old the cache may be before a lookup miss
// forces a refresh.
const DefaultRefreshInterval = 10 * time.Minute

const initializeAttempts = 5

// AccountSource lists all known auth tokens. The Postgres store satisfies
// this.
type AccountSource interface {
	ListAuthTokens(ctx context.Context) (map[string]string, error)
}

// Status is the cache block reported by the status endpoint.
type Status struct {
	Initialized bool      `json:"initialized"`
	TokenCount  int       `json:"token_count"`
	LastRefresh time.Time `json:"last_refresh"`
	CacheAgeS   float64   `json:"cache_age_s"`
}

// TokenCache maps auth token to steam id. All methods are safe for
// concurrent use.
type TokenCache struct {
	source          AccountSource
	log             *zap.SugaredLogger
	refreshInterval time.Duration
	sf              singleflight.Group
	now             func() time.Time
	legacyToken     string
	legacySteamID   string

	mu          sync.RWMutex
	tokens      map[string]string
	lastRefresh time.Time
	initialized bool
}

// Config wires a TokenCache. LegacyToken, when set, is registered against
// LegacySteamID to keep clients on a previously hard-coded token working.
type Config struct {
	Source          AccountSource
	Logger          *zap.SugaredLogger
	RefreshInterval time.Duration
	LegacyToken     string
	LegacySteamID   string
}

func New(cfg Config) *TokenCache {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	c := &TokenCache{
		source:          cfg.Source,
		log:             cfg.Logger,
		refreshInterval: cfg.RefreshInterval,
		now:             time.Now,
		legacyToken:     cfg.LegacyToken,
		legacySteamID:   cfg.LegacySteamID,
		tokens:          make(map[string]string),
	}
	if cfg.LegacyToken != "" {
		c.tokens[cfg.LegacyToken] = cfg.LegacySteamID
		cfg.Logger.Warnw("legacy auth token registered", "steam_id", cfg.LegacySteamID)
	}
	return c
}

// Initialize performs the first load, retrying with backoff. It is
// idempotent; a second call on an initialized cache is a no-op.
func (c *TokenCache) Initialize(ctx context.Context) error {
	c.mu.RLock()
	done := c.initialized
	c.mu.RUnlock()
	if done {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= initializeAttempts; attempt++ {
		if err := c.Refresh(ctx); err != nil {
			lastErr = err
			c.log.Warnw("token cache load failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("token cache initialization failed after %d attempts: %w", initializeAttempts, lastErr)
}

// Refresh reloads all tokens from the source. Concurrent callers share a
// single in-flight reload. A failed reload leaves the previous cache
// intact so ingestion keeps working while the store is unreachable.
func (c *TokenCache) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		tokens, err := c.source.ListAuthTokens(ctx)
		if err != nil {
			return nil, err
		}

		if c.legacyToken != "" {
			if _, ok := tokens[c.legacyToken]; !ok {
				tokens[c.legacyToken] = c.legacySteamID
			}
		}

		c.mu.Lock()
		c.tokens = tokens
		c.lastRefresh = c.now()
		c.mu.Unlock()

		c.log.Infow("token cache refreshed", "tokens", len(tokens))
		return nil, nil
	})
	return err
}

// IsValid reports whether a token authenticates some account.
func (c *TokenCache) IsValid(ctx context.Context, token string) bool {
	_, ok := c.SteamIDFor(ctx, token)
	return ok
}

// SteamIDFor resolves a token to its steam id. On a miss with a cache
// older than the refresh interval it refreshes once and retries, so a
// miss never blocks longer than a single reload.
func (c *TokenCache) SteamIDFor(ctx context.Context, token string) (string, bool) {
	c.mu.RLock()
	sid, ok := c.tokens[token]
	stale := c.now().Sub(c.lastRefresh) > c.refreshInterval
	c.mu.RUnlock()
	if ok {
		return sid, true
	}
	if !stale {
		return "", false
	}

	if err := c.Refresh(ctx); err != nil {
		c.log.Errorw("token cache refresh on miss failed", "error", err)
		return "", false
	}
	c.mu.RLock()
	sid, ok = c.tokens[token]
	c.mu.RUnlock()
	return sid, ok
}

// Stats returns the cache block for the status endpoint.
func (c *TokenCache) Stats() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{
		Initialized: c.initialized,
		TokenCount:  len(c.tokens),
		LastRefresh: c.lastRefresh,
	}
	if !c.lastRefresh.IsZero() {
		s.CacheAgeS = c.now().Sub(c.lastRefresh).Seconds()
	}
	return s
}
