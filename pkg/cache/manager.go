package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds cache configuration.
type Config struct {
	// RecordTTL is how long resolved job records are kept.
	RecordTTL time.Duration

	// DayTTL is how long day listings are kept. Listings of the current
	// day change while jobs complete and are never cached.
	DayTTL time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		RecordTTL: 7 * 24 * time.Hour,
		DayTTL:    24 * time.Hour,
	}
}

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis *redis.Client
	cfg   Config
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, cfg Config) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = DefaultConfig().RecordTTL
	}
	if cfg.DayTTL <= 0 {
		cfg.DayTTL = DefaultConfig().DayTTL
	}
	return &Manager{
		redis: redisClient,
		cfg:   cfg,
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(key.Kind).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(key.Kind).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(key.Kind).Inc()
	return entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// GetRecords looks up job records in one round trip. It returns the records
// found, keyed by id, and the ids that must still be fetched in input order.
func (m *Manager) GetRecords(ctx context.Context, ids []string) (map[string]job.Record, []string, error) {
	if len(ids) == 0 {
		return map[string]job.Record{}, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = JobKey(id).String()
	}

	values, err := m.redis.MGet(ctx, keys...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, ids, fmt.Errorf("redis mget: %w", err)
	}

	found := make(map[string]job.Record, len(ids))
	var missing []string
	for i, v := range values {
		rec, ok := decodeRecord(v)
		if !ok {
			CacheMisses.WithLabelValues(KindJob).Inc()
			missing = append(missing, ids[i])
			continue
		}
		CacheHits.WithLabelValues(KindJob).Inc()
		found[ids[i]] = rec
	}
	return found, missing, nil
}

// SetRecords stores job records in one pipeline.
func (m *Manager) SetRecords(ctx context.Context, records []job.Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := m.redis.Pipeline()
	written := 0
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		data, err := json.Marshal(NewEntry(raw, m.cfg.RecordTTL))
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		pipe.Set(ctx, JobKey(rec.ID).String(), data, m.cfg.RecordTTL)
		written += len(data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis pipeline: %w", err)
	}
	CacheSize.Add(float64(written))
	return nil
}

// GetDay returns a cached day listing.
func (m *Manager) GetDay(ctx context.Context, day string, params map[string]string) ([]job.RecordStub, error) {
	entry, err := m.Get(ctx, DayKey(day, params))
	if err != nil {
		return nil, err
	}
	var stubs []job.RecordStub
	if err := json.Unmarshal(entry.Data, &stubs); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return stubs, nil
}

// SetDay stores a day listing.
func (m *Manager) SetDay(ctx context.Context, day string, params map[string]string, stubs []job.RecordStub) error {
	raw, err := json.Marshal(stubs)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal day listing: %w", err)
	}
	return m.Set(ctx, DayKey(day, params), NewEntry(raw, m.cfg.DayTTL))
}

func decodeEntry(data []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func decodeRecord(v any) (job.Record, bool) {
	s, ok := v.(string)
	if !ok {
		return job.Record{}, false
	}
	entry, err := decodeEntry([]byte(s))
	if err != nil || entry.IsExpired() {
		return job.Record{}, false
	}
	var rec job.Record
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		return job.Record{}, false
	}
	return rec, true
}
