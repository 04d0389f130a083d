// Package cache provides the LRU store that keeps compiled frame graph
// plans across frames.
//
// Entries are keyed by the 64-bit hash of a cache key. The store is
// bounded: when it holds more entries than its capacity the least recently
// used entry is evicted and handed to the eviction callback.
//
//	c := cache.New[uint64, *Plan](32)
//	c.Set(key, plan)
//	plan, ok := c.Get(key)
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
