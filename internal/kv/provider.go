package kv

import (
	"context"
	"fmt"
	"sort"

	"github.com/jensholdgaard/bosstimer/internal/config"
)

// Driver opens a Backend from storage configuration.
type Driver func(ctx context.Context, cfg config.StorageConfig) (Backend, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver named by cfg.Driver and opens a Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
