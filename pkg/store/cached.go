package store

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/cache"
	"github.com/Sternrassler/transfix-export/pkg/enumerate"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RecordCache is the cache consulted by CachedStore. *cache.Manager
// implements it.
type RecordCache interface {
	GetRecords(ctx context.Context, ids []string) (map[string]job.Record, []string, error)
	SetRecords(ctx context.Context, records []job.Record) error
	GetDay(ctx context.Context, day string, params map[string]string) ([]job.RecordStub, error)
	SetDay(ctx context.Context, day string, params map[string]string, stubs []job.RecordStub) error
}

// CachedStore serves records from the cache and asks the wrapped store only
// for what is missing. Cache errors are logged and never fail a request.
type CachedStore struct {
	next   enumerate.RecordStore
	cache  RecordCache
	logger zerolog.Logger
	now    func() time.Time

	// FreshDays is the number of most recent days whose listings are not
	// cached because they may still grow.
	FreshDays int
}

// NewCachedStore wraps next with cache.
func NewCachedStore(next enumerate.RecordStore, cache RecordCache) *CachedStore {
	return &CachedStore{
		next:      next,
		cache:     cache,
		logger:    log.With().Str("component", "store-cache").Logger(),
		now:       time.Now,
		FreshDays: 2,
	}
}

// FetchDay implements enumerate.RecordStore.
func (c *CachedStore) FetchDay(ctx context.Context, day time.Time, filter enumerate.DayFilter) ([]job.RecordStub, error) {
	key := day.UTC().Format(enumerate.DayLayout)
	cacheable := c.cacheable(day)

	if cacheable {
		stubs, err := c.cache.GetDay(ctx, key, filter)
		if err == nil {
			c.logger.Debug().Str("day", key).Int("stubs", len(stubs)).Msg("Day listing from cache")
			return stubs, nil
		}
		c.logCacheErr(err, "get day")
	}

	stubs, err := c.next.FetchDay(ctx, day, filter)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := c.cache.SetDay(ctx, key, filter, stubs); err != nil {
			c.logCacheErr(err, "set day")
		}
	}
	return stubs, nil
}

// FetchDetails implements enumerate.RecordStore. The result keeps the order
// of ids; ids unknown to both cache and store are omitted.
func (c *CachedStore) FetchDetails(ctx context.Context, ids []string) ([]job.Record, error) {
	hits, missing, err := c.cache.GetRecords(ctx, ids)
	if err != nil {
		c.logCacheErr(err, "get records")
		hits, missing = nil, ids
	}

	fetched := make(map[string]job.Record, len(missing))
	if len(missing) > 0 {
		records, err := c.next.FetchDetails(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			fetched[r.ID] = r
		}
		if err := c.cache.SetRecords(ctx, records); err != nil {
			c.logCacheErr(err, "set records")
		}
	}

	recordsCached.WithLabelValues("cache").Add(float64(len(hits)))

	out := make([]job.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := hits[id]; ok {
			out = append(out, r)
			continue
		}
		if r, ok := fetched[id]; ok {
			out = append(out, r)
		}
	}

	c.logger.Debug().
		Int("requested", len(ids)).
		Int("cached", len(hits)).
		Int("fetched", len(fetched)).
		Msg("Details resolved")
	return out, nil
}

// ListDays forwards to the wrapped store when it can list days.
func (c *CachedStore) ListDays(ctx context.Context) ([]time.Time, error) {
	lister, ok := c.next.(enumerate.DayLister)
	if !ok {
		return nil, nil
	}
	return lister.ListDays(ctx)
}

func (c *CachedStore) cacheable(day time.Time) bool {
	today := c.now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -(c.FreshDays - 1))
	return day.UTC().Before(cutoff)
}

func (c *CachedStore) logCacheErr(err error, op string) {
	if errors.Is(err, cache.ErrCacheMiss) {
		return
	}
	c.logger.Warn().Err(err).Str("operation", op).Msg("Cache error, falling back to remote")
}
