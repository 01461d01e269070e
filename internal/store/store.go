// ABOUTME: SessionStore interface and record type for bot session persistence
// ABOUTME: Records are JSON objects keyed by the user's address

package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("store closed")

// Reserved record keys.
const (
	KeyAddress   = "address"
	KeyState     = "_state"
	KeyThread    = "_thread"
	KeyTimestamp = "timestamp"
)

// Record is the persisted form of a session: free-form keys plus the reserved
// _state, _thread and timestamp keys.
type Record map[string]any

// Clone returns a copy of r that shares no JSON containers with it: nested
// objects and arrays are copied too. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Record:
		return v.Clone()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// SessionStore persists session records keyed by address.
type SessionStore interface {
	// LoadSession returns the stored record for address. A missing record is
	// not an error: an empty record is returned instead.
	LoadSession(ctx context.Context, address string) (Record, error)
	// SaveSession replaces the stored record for address.
	SaveSession(ctx context.Context, address string, rec Record) error
	// Close releases any resources held by the store.
	Close() error
}

// Options selects and configures a SessionStore backend.
type Options struct {
	Driver string // sqlite, redis, memory

	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration
}

// Open creates the SessionStore named by opts.Driver.
func Open(opts Options) (SessionStore, error) {
	switch opts.Driver {
	case "", "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
			TTL:      opts.RedisTTL,
		})
	case "memory":
		return NewMockStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
