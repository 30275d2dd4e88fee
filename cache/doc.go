// Package cache holds the small generic caches a bot session keeps to avoid
// redundant round trips to the voice server.
//
//	LRU      : fixed capacity, least-recently-touched eviction, synchronous
//	TTL      : per-entry expiry against an injectable clock, no background sweep
//	Snapshot : one whole value guarded by an "outdated" flag, refreshed on demand
//
// LRU and TTL are thin wrappers over github.com/hashicorp/golang-lru/v2's
// simplelru. All three types are safe for concurrent use; a session normally
// touches them from its own run loop plus the command goroutines that query it.
package cache
