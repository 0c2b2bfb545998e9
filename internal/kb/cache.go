// Package kb holds the in-memory knowledge base: the TTL cache over the
// remote note source and the query surface consumed by the HTTP API and the
// MCP tool layer.
package kb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/mimir/internal/models"
)

// DefaultTTL is the staleness bound for the note cache.
const DefaultTTL = 5 * time.Minute

// Fetcher loads the full note set from the configured source.
type Fetcher interface {
	FetchNotes(ctx context.Context, branch string) (map[string]models.Note, error)
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	Fetcher Fetcher
	// Branch passed through to the fetcher; empty means source default.
	Branch string
	// TTL defaults to DefaultTTL when zero.
	TTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Cache is the single process-wide note cache. The whole note mapping is
// replaced atomically on refresh, so readers never observe a partially
// populated snapshot; concurrent stale-triggered refreshes are collapsed
// into one remote fetch.
type Cache struct {
	fetcher Fetcher
	branch  string
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	notes     map[string]models.Note
	fetchedAt time.Time

	sf singleflight.Group
}

// NewCache creates an empty cache. The first Get triggers a fetch.
func NewCache(opts CacheOptions) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		fetcher: opts.Fetcher,
		branch:  opts.Branch,
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the current note mapping, refreshing first when forced, when
// the TTL has elapsed, or when the cache is empty. A failed refresh degrades
// to the last known good snapshot; with no previous snapshot it returns an
// empty mapping. Get never fails the caller.
func (c *Cache) Get(ctx context.Context, force bool) map[string]models.Note {
	if force || c.stale() {
		if _, err := c.Refresh(ctx); err != nil {
			slog.Warn("knowledge base refresh failed, serving last known snapshot",
				slog.String("error", err.Error()))
		}
	}
	return c.Snapshot()
}

// Refresh performs one fetch through the source adapter and atomically
// replaces the cache contents, returning the number of notes loaded.
// Concurrent callers share a single in-flight fetch.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	n, err, _ := c.sf.Do("refresh", func() (any, error) {
		notes, err := c.fetcher.FetchNotes(ctx, c.branch)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.notes = notes
		c.fetchedAt = c.now()
		c.mu.Unlock()
		slog.Info("knowledge base refreshed", slog.Int("notes", len(notes)))
		return len(notes), nil
	})
	if err != nil {
		return 0, err
	}
	return n.(int), nil
}

// Snapshot returns the current mapping without triggering a refresh. The
// returned map is shared; callers must not mutate it.
func (c *Cache) Snapshot() map[string]models.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.notes == nil {
		return map[string]models.Note{}
	}
	return c.notes
}

// FetchedAt returns the time of the last successful refresh (zero before
// the first one).
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.notes) == 0 {
		return true
	}
	return c.now().Sub(c.fetchedAt) > c.ttl
}
