package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relaydir/internal/shared/logger"
	"relaydir/registry/feed"
	"relaydir/registry/model"
)

// ErrRegistryUnavailable is the only caller-visible fatal condition in the
// ingestion pipeline: a refresh failed and no previous record set exists to
// fall back to.
var ErrRegistryUnavailable = errors.New("registry: no cached data and refresh failed")

// DefaultTTL is the cache freshness window.
const DefaultTTL = time.Hour

// Fetcher supplies the raw upstream feed text. *feed.Client is the
// production implementation.
type Fetcher interface {
	FetchRaw(ctx context.Context) (string, error)
}

// Meta describes the cache state a response was served from. It is purely
// observational and never affects query results.
type Meta struct {
	Hit        bool      `json:"hit"`
	Stale      bool      `json:"stale"`
	AgeSeconds int64     `json:"age_seconds"`
	TTLSeconds int64     `json:"ttl_seconds"`
	LastFetch  time.Time `json:"lastFetch"`
}

// Cache owns the process-wide relay record set. State is replaced wholesale
// by a successful refresh and never mutated in place, so readers can hold
// the returned slice without copying.
//
// Refresh cycles are serialized behind refreshMu: concurrent cache-miss
// callers coalesce into a single upstream round trip, and the freshness
// re-check after acquiring the lock lets the losers reuse the winner's
// result.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	records   []*model.ServerRecord // nil until the first successful refresh
	fetchedAt time.Time

	refreshMu sync.Mutex

	// onRefresh, when set, is invoked after every successful refresh with
	// the new record count and fetch time. Used to notify the dashboard hub.
	onRefresh func(total int, fetchedAt time.Time)
}

// NewCache creates an empty cache. ttl <= 0 selects DefaultTTL.
func NewCache(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// OnRefresh registers a hook called after each successful refresh. Must be
// set before the cache is shared between goroutines.
func (c *Cache) OnRefresh(fn func(total int, fetchedAt time.Time)) {
	c.onRefresh = fn
}

// GetRecords returns the cached record set and its cache metadata.
//
// Policy: a fresh, non-empty set answers immediately unless forceRefresh is
// set. Otherwise a refresh cycle runs; on failure the previous set (however
// old) is returned as a stale fallback, and only a cold start with no
// fallback data surfaces ErrRegistryUnavailable.
func (c *Cache) GetRecords(ctx context.Context, forceRefresh bool) ([]*model.ServerRecord, Meta, error) {
	if !forceRefresh {
		c.mu.RLock()
		if c.fresh() {
			records, meta := c.records, c.metaLocked(true, false)
			c.mu.RUnlock()
			return records, meta, nil
		}
		c.mu.RUnlock()
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have completed a refresh while we waited for the
	// lock. forceRefresh skips only the TTL check, so it still refetches.
	if !forceRefresh {
		c.mu.RLock()
		if c.fresh() {
			records, meta := c.records, c.metaLocked(true, false)
			c.mu.RUnlock()
			return records, meta, nil
		}
		c.mu.RUnlock()
	}

	records, err := c.refresh(ctx)
	if err == nil {
		c.mu.RLock()
		meta := c.metaLocked(false, false)
		c.mu.RUnlock()
		return records, meta, nil
	}

	// Stale fallback: any previously fetched set, expired or not, beats an
	// error. fetchedAt is deliberately left untouched.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.records != nil {
		l := logger.WithComponent("Registry/Cache")
		l.Warn().
			Err(err).
			Int("stale_count", len(c.records)).
			Time("fetched_at", c.fetchedAt).
			Msg("Refresh failed, serving stale data.")
		return c.records, c.metaLocked(false, true), nil
	}
	return nil, Meta{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
}

// refresh runs one fetch+parse cycle and swaps the state in atomically on
// success. Callers hold refreshMu; the state lock is taken only for the
// final swap so readers are never blocked on the network.
func (c *Cache) refresh(ctx context.Context) ([]*model.ServerRecord, error) {
	l := logger.WithComponent("Registry/Cache")
	l.Info().Msg("Starting refresh cycle...")

	raw, err := c.fetcher.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	records, err := feed.Parse(raw)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*model.ServerRecord{}
	}

	fetchedAt := c.now()
	c.mu.Lock()
	c.records = records
	c.fetchedAt = fetchedAt
	c.mu.Unlock()

	l.Info().Int("count", len(records)).Msg("Refresh cycle finished.")
	if c.onRefresh != nil {
		c.onRefresh(len(records), fetchedAt)
	}
	return records, nil
}

// Snapshot reports the current record count and cache metadata without ever
// triggering a refresh. Used by the status endpoint.
func (c *Cache) Snapshot() (int, Meta) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), c.metaLocked(c.fresh(), false)
}

// fresh reports whether the stored set can answer without a refresh.
// Callers must hold at least a read lock.
func (c *Cache) fresh() bool {
	return len(c.records) > 0 && c.now().Sub(c.fetchedAt) < c.ttl
}

// metaLocked builds cache metadata from the current state. Callers must hold
// at least a read lock.
func (c *Cache) metaLocked(hit, stale bool) Meta {
	meta := Meta{Hit: hit, Stale: stale, LastFetch: c.fetchedAt}
	if !c.fetchedAt.IsZero() {
		age := c.now().Sub(c.fetchedAt)
		meta.AgeSeconds = int64(age.Seconds())
		if remaining := c.ttl - age; remaining > 0 {
			meta.TTLSeconds = int64(remaining.Seconds())
		}
	}
	return meta
}
