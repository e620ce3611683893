package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key namespaces.
const (
	KindJob = "job"
	KindDay = "day"
)

// CacheKey identifies a cached value.
type CacheKey struct {
	// Kind is the value namespace (KindJob, KindDay)
	Kind string

	// ID is the job id or the day
	ID string

	// Params are extra discriminating parameters (e.g. day listing filters)
	Params map[string]string
}

// JobKey returns the key of a job record.
func JobKey(id string) CacheKey {
	return CacheKey{Kind: KindJob, ID: id}
}

// DayKey returns the key of a day listing.
func DayKey(day string, params map[string]string) CacheKey {
	return CacheKey{Kind: KindDay, ID: day, Params: params}
}

// String generates a deterministic key string.
// Format: transfix:kind:id:param1=val1:param2=val2
//
// Example:
//
//	transfix:day:2024-03-01:type=upscale
func (k CacheKey) String() string {
	parts := []string{"transfix"}

	if kind := strings.Trim(k.Kind, ":"); kind != "" {
		parts = append(parts, kind)
	}
	if k.ID != "" {
		parts = append(parts, k.ID)
	}

	// sorted for determinism
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}
