// Package kvtest holds a conformance suite every kv.Backend must pass.
package kvtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jensholdgaard/bosstimer/internal/kv"
)

// Run exercises b against the kv.Backend contract. b must start empty.
func Run(t *testing.T, b kv.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := b.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Error("expected missing key to be absent")
		}
	})

	t.Run("set get overwrite", func(t *testing.T) {
		if err := b.Set(ctx, "abt:BossA:2024-01-01", `{"records":[]}`); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := b.Get(ctx, "abt:BossA:2024-01-01")
		if err != nil || !ok || v != `{"records":[]}` {
			t.Fatalf("Get = %q, %v, %v", v, ok, err)
		}
		if err := b.Set(ctx, "abt:BossA:2024-01-01", "v2"); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		v, _, _ = b.Get(ctx, "abt:BossA:2024-01-01")
		if v != "v2" {
			t.Errorf("after overwrite Get = %q, want %q", v, "v2")
		}
	})

	t.Run("unicode values survive", func(t *testing.T) {
		want := `{"note":"擊殺 ✓"}`
		if err := b.Set(ctx, "abt:unicode", want); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, _, err := b.Get(ctx, "abt:unicode")
		if err != nil || got != want {
			t.Errorf("Get = %q, %v, want %q", got, err, want)
		}
		if err := b.Delete(ctx, "abt:unicode"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	})

	t.Run("keys by prefix", func(t *testing.T) {
		for _, k := range []string{"abt:BossB:2024-01-02", "abt:BossB:2024-01-01", "abt:Boss_C:2024-01-01", "other:x"} {
			if err := b.Set(ctx, k, "x"); err != nil {
				t.Fatalf("Set(%s): %v", k, err)
			}
		}

		got, err := b.Keys(ctx, "abt:BossB:")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if strings.Join(got, ",") != "abt:BossB:2024-01-01,abt:BossB:2024-01-02" {
			t.Errorf("Keys(abt:BossB:) = %v", got)
		}

		// Underscore is literal, not a wildcard.
		got, err = b.Keys(ctx, "abt:Boss_")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if len(got) != 1 || got[0] != "abt:Boss_C:2024-01-01" {
			t.Errorf("Keys(abt:Boss_) = %v", got)
		}

		all, err := b.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys(all): %v", err)
		}
		n, err := b.Len(ctx)
		if err != nil {
			t.Fatalf("Len: %v", err)
		}
		if n != len(all) || n != 5 {
			t.Errorf("Len = %d, Keys(\"\") = %d keys, want 5", n, len(all))
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.Delete(ctx, "other:x"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := b.Get(ctx, "other:x"); ok {
			t.Error("key still present after Delete")
		}
		if err := b.Delete(ctx, "never-existed"); err != nil {
			t.Errorf("Delete(missing) error = %v", err)
		}
	})

	t.Run("many keys", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			if err := b.Set(ctx, fmt.Sprintf("bulk:%03d", i), "v"); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		got, err := b.Keys(ctx, "bulk:")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if len(got) != 50 || got[0] != "bulk:000" || got[49] != "bulk:049" {
			t.Errorf("Keys(bulk:) returned %d keys, first/last %v", len(got), got)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
