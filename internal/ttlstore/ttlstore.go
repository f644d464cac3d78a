// Package ttlstore abstracts the external TTL-keyed store the engine uses
// for cached profiles, mitigation facts and the recent-notifications list.
// Expiry is owned by the store: absence of a key is the sole source of truth
// for "not set". The engine must keep detecting when the store is down, so
// every caller treats an error from this package as a skip, not a failure.
package ttlstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and TTL when the key does not exist
	// or has expired.
	ErrNotFound = errors.New("ttlstore: key not found")

	// ErrUnavailable is returned by the Disabled store and signals the
	// engine is running in degraded, detection-only mode.
	ErrUnavailable = errors.New("ttlstore: store unavailable")
)

// Store is a TTL-keyed key/value store. A ttl of 0 means no expiry.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Push prepends a value to a bounded list, trimming it to max entries.
	Push(ctx context.Context, key, value string, max int64) error
	// List returns up to n most recent entries of a bounded list.
	List(ctx context.Context, key string, n int64) ([]string, error)
}

// Disabled satisfies Store when no external store is configured or
// reachable. Every operation reports ErrUnavailable.
type Disabled struct{}

func (Disabled) Set(context.Context, string, string, time.Duration) error { return ErrUnavailable }
func (Disabled) Get(context.Context, string) (string, error)             { return "", ErrUnavailable }
func (Disabled) Delete(context.Context, ...string) error                 { return ErrUnavailable }
func (Disabled) Keys(context.Context, string) ([]string, error)          { return nil, ErrUnavailable }
func (Disabled) TTL(context.Context, string) (time.Duration, error)      { return 0, ErrUnavailable }
func (Disabled) Push(context.Context, string, string, int64) error       { return ErrUnavailable }
func (Disabled) List(context.Context, string, int64) ([]string, error)   { return nil, ErrUnavailable }
