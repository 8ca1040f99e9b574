// Package kv abstracts the transactional key-value store that holds all
// session, token, rate-limit, and blob-metadata state. Nothing above this
// package may cache values across requests; the store is the only authority.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrTxConflict is returned when an Update transaction keeps losing the
// optimistic-concurrency race and retries are exhausted.
var ErrTxConflict = errors.New("kv: transaction conflict")

// UpdateFunc receives the current value (and whether the key exists) and
// returns the next value plus its TTL. Returning an error aborts the
// transaction without writing.
type UpdateFunc func(current string, exists bool) (next string, ttl time.Duration, err error)

// Store is the KV contract every component is built on. TTL of 0 means no
// expiry. All operations are safe for concurrent use across processes.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a value with a TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only when the key is absent; reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys. Deleting an absent key is a no-op.
	Del(ctx context.Context, keys ...string) error
	// Keys lists keys under a prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Update runs an atomic read-modify-write on a single key.
	Update(ctx context.Context, key string, fn UpdateFunc) (string, error)

	// SetAdd adds members to an unordered set and refreshes its TTL.
	SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SetMembers returns all members of a set (empty when absent).
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetRemove removes members from a set.
	SetRemove(ctx context.Context, key string, members ...string) error

	// ListAppend pushes a value onto a list, trimming it to maxLen entries
	// (0 = unbounded) and refreshing its TTL.
	ListAppend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	// ListRange returns entries [start, stop] (inclusive, -1 = last).
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}
