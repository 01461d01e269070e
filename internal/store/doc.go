// Package store persists bot session records.
//
// # Architecture
//
// SessionStore is the only contract the session layer depends on:
//
//   - LoadSession returns the record for an address (empty when missing)
//   - SaveSession replaces it; last write wins
//
// Three implementations are provided:
//
//   - SQLiteStore: single-node deployments, one JSON document per address
//   - RedisStore: shared records across bot replicas, optional TTL
//   - MockStore: in-memory, used by tests and the "memory" driver
//
// Open selects one from the storage.driver config value.
//
// # Record Shape
//
//	{
//	  "address":   "0x...",
//	  "_state":    "awaiting_amount" | null,
//	  "_thread":   "tip" | null,
//	  "timestamp": 1700000000,
//	  ...free-form keys
//	}
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Use ":memory:" for throwaway databases in tests.
package store
