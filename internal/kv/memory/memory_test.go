package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jensholdgaard/bosstimer/internal/kv"
	"github.com/jensholdgaard/bosstimer/internal/kv/kvtest"
	"github.com/jensholdgaard/bosstimer/internal/kv/memory"
)

func TestBackend(t *testing.T) {
	kvtest.Run(t, memory.New())
}

func TestBackend_Closed(t *testing.T) {
	b := memory.New()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()
	if err := b.Set(ctx, "k", "v"); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Set after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Get after Close error = %v, want ErrClosed", err)
	}
}
