package memocache

// Metric names reported to stats.Tracker.
const (
	MetricHit     = "cache_hit"
	MetricMiss    = "cache_miss"
	MetricExpired = "cache_expired"
	MetricWrite   = "cache_write"
	MetricDelete  = "cache_delete"
	MetricItems   = "cache_items"
	MetricEvict   = "cache_evict"
	MetricBuild   = "cache_build"
	MetricFailed  = "cache_failed"
	MetricWait    = "cache_wait"
	MetricRetry   = "cache_retry"
)
