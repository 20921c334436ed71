// Package cache defines the key-value store that backs the dispatcher's
// cache stage. The store maps a resource URI to a cached entry (payload
// bytes plus response headers) and exposes Get/Put primitives that are
// atomic with respect to each other. Two implementations are provided: a
// mutex-guarded in-memory map and a disk-backed store using temp file +
// rename writes with a JSON metadata sidecar, plus a tiered composition
// (memory front, disk back) for durable caching without losing the fast
// path. Absent entries surface as ErrNotFound, never as partial data.
package cache
