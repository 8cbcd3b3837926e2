// Package memocache provides a concurrency-safe memoization cache.
//
// An expensive computation runs at most once per key, concurrent callers for
// the same key await the single in-flight computation and share its result.
// Subsequent callers are served from cache until the entry expires or is
// invalidated.
//
// Features:
//
//   - Pending computation is published in the cache itself, racing callers
//     await it instead of recomputing.
//   - Failed computation is not cached, waiters are released to race for a
//     fresh attempt instead of hanging or receiving a stale failure.
//   - Composable expiration policy: absolute deadline, ttl, sliding window,
//     eviction priority, one-shot invalidation tokens.
//   - Expiration options are captured before the value is produced, production
//     latency does not extend entry lifetime.
//   - Nested computations propagate invalidation, expiring a dependency
//     expires the entries produced from it.
//   - Pluggable store backends, allows logging and stats collection.
package memocache
