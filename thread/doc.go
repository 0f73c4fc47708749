// Package thread provides core.ThreadStore implementations: a volatile
// in-memory store with TTL expiry and capacity eviction, and a SQLite-backed
// durable store with an append-only turn log.
package thread
