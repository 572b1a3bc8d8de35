package state

import "context"

// Store is the key/value persistence boundary shared by the bot state snapshot
// and the order executor's fill cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
