// Package cache stores resolved job records and day listings in Redis.
//
// Detail requests against the archive are the most expensive part of an
// export. Records are immutable once a job has completed, so a re-run over
// the same days can skip detail requests for every record already seen.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, cache.DefaultConfig())
//
//	found, missing, err := manager.GetRecords(ctx, ids)
//	if err != nil {
//		// cache errors are not fatal, fetch everything
//	}
//
//	records := fetch(missing)
//	_ = manager.SetRecords(ctx, records)
//
// # Keys
//
// Keys are deterministic: transfix:job:<id> for records and
// transfix:day:<YYYY-MM-DD>[:param=value...] for day listings.
//
// # Metrics
//
//   - transfix_cache_hits_total{kind} - Cache hits
//   - transfix_cache_misses_total{kind} - Cache misses
//   - transfix_cache_size_bytes - Bytes written to the cache
//   - transfix_cache_errors_total{operation} - Cache operation errors
package cache
