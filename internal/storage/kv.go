package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured indicates the backing store was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// KV is the small durable key-value surface the watcher state lives behind.
// Keys are namespaced per instrument, e.g. "baseline:XBT/USD" and
// "lastAlert:XBT/USD:up".
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
