// Package memory provides an in-process kv.Backend. Contents are lost when
// the process exits.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jensholdgaard/bosstimer/internal/config"
	"github.com/jensholdgaard/bosstimer/internal/kv"
)

func init() {
	kv.Register("memory", func(context.Context, config.StorageConfig) (kv.Backend, error) {
		return New(), nil
	})
}

// Backend is a map guarded by a mutex.
type Backend struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{data: make(map[string]string)}
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", false, kv.ErrClosed
	}
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return kv.ErrClosed
	}
	b.data[key] = value
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return kv.ErrClosed
	}
	delete(b.data, key)
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, kv.ErrClosed
	}
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Len(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, kv.ErrClosed
	}
	return len(b.data), nil
}

func (b *Backend) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return kv.ErrClosed
	}
	return nil
}

// Close marks the backend closed and drops its contents.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.data = nil
	return nil
}
