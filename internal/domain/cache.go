package domain

import "time"

// CacheEntry is a keyed value held by the metric cache.
type CacheEntry struct {
	Data           any           `json:"data"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	HitCount       int           `json:"hit_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	SizeBytes      int64         `json:"size_bytes"`
}

// Expired reports whether the entry has outlived its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats is a read-only summary of the cache contents.
type CacheStats struct {
	TotalEntries   int     `json:"total_entries"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalHits      int     `json:"total_hits"`
	AvgHitRate     float64 `json:"avg_hit_rate"`
	MemoryUsageMB  float64 `json:"memory_usage_mb"`
	Evictions      uint64  `json:"evictions"`
}
