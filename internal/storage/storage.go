// Package storage holds the key-value backends the console persists its session record in.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// KV is a string key-value store. Remove of an absent key succeeds.
type KV interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
