// Package kv defines the string-keyed storage contract the record store
// is built on, and a registry of drivers that satisfy it.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("kv: backend closed")

// Backend is a string-keyed key-value store. Single-key writes are atomic;
// nothing else is.
type Backend interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists the keys starting with prefix, sorted. An empty prefix
	// lists every key.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Len returns the number of keys held.
	Len(ctx context.Context) (int, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}
