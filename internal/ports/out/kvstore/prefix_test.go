package kvstore

import (
	"context"
	"testing"
)

type recordingStore struct {
	keys []string
}

func (s *recordingStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.keys = append(s.keys, key)
	return nil, false, nil
}

func (s *recordingStore) Set(_ context.Context, key string, _ []byte) error {
	s.keys = append(s.keys, key)
	return nil
}

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.keys = append(s.keys, key)
	return nil
}

func TestPrefixed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := &recordingStore{}
	store := Prefixed(inner, "ns")

	if _, _, err := store.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "b", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	want := []string{"ns:a", "ns:b", "ns:c"}
	if len(inner.keys) != len(want) {
		t.Fatalf("keys = %v, want %v", inner.keys, want)
	}
	for i := range want {
		if inner.keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", inner.keys, want)
		}
	}
}

func TestPrefixed_EmptyPrefixIsIdentity(t *testing.T) {
	t.Parallel()
	inner := &recordingStore{}
	if got := Prefixed(inner, ""); got != Store(inner) {
		t.Error("empty prefix should return the store unchanged")
	}
}
