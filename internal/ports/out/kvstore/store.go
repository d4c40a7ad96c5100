package kvstore

import "context"

// Store is the persistent key-value store used for snapshots (cache blob,
// rate-limit window, enabled flag). Implementations guarantee at-least-once
// durability on a successful Set; there are no transactional guarantees
// across keys.
type Store interface {
	// Get returns the stored value for key. The second return is false when
	// the key has never been set (or was deleted).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
