package kvstore

import "context"

type prefixed struct {
	inner  Store
	prefix string
}

// Prefixed namespaces every key of the wrapped store. Lets several services
// share one backing store without key collisions.
func Prefixed(inner Store, prefix string) Store {
	if prefix == "" {
		return inner
	}
	return prefixed{inner: inner, prefix: prefix + ":"}
}

func (p prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}
