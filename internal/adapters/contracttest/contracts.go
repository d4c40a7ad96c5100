package contracttest

import (
	"bytes"
	"context"
	"testing"

	kvstoreport "github.com/cardbuff/cardstats/internal/ports/out/kvstore"
)

type CleanupFunc = func()

type KVStoreFactory func(t *testing.T) (kvstoreport.Store, CleanupFunc)

// RunKVStore exercises the kvstore.Store contract against an adapter.
func RunKVStore(t *testing.T, newStore KVStoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		store, _ := open(t, newStore)

		v, ok, err := store.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok || v != nil {
			t.Fatalf("expected miss, got ok=%v v=%q", ok, v)
		}
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		store, _ := open(t, newStore)

		if err := store.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := store.Get(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(v, []byte(`{"a":1}`)) {
			t.Fatalf("value=%q", v)
		}

		if err := store.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		v, ok, err = store.Get(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("Get after overwrite: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(v, []byte(`{"a":2}`)) {
			t.Fatalf("value after overwrite=%q", v)
		}
	})

	t.Run("SetEmptyValue", func(t *testing.T) {
		store, _ := open(t, newStore)

		if err := store.Set(ctx, "empty", []byte{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := store.Get(ctx, "empty")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if len(v) != 0 {
			t.Fatalf("value=%q, want empty", v)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store, _ := open(t, newStore)

		if err := store.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := store.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, ok, err := store.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Fatalf("expected miss after delete")
		}

		// Deleting a missing key is not an error.
		if err := store.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		store, _ := open(t, newStore)

		if err := store.Set(ctx, "a", []byte("1")); err != nil {
			t.Fatalf("Set a: %v", err)
		}
		if err := store.Set(ctx, "b", []byte("2")); err != nil {
			t.Fatalf("Set b: %v", err)
		}
		if err := store.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete a: %v", err)
		}
		v, ok, err := store.Get(ctx, "b")
		if err != nil || !ok {
			t.Fatalf("Get b: ok=%v err=%v", ok, err)
		}
		if string(v) != "2" {
			t.Fatalf("b=%q", v)
		}
	})
}

func open(t *testing.T, newStore KVStoreFactory) (kvstoreport.Store, CleanupFunc) {
	t.Helper()
	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return store, cleanup
}
