package cache

import (
	"context"
	"time"
)

// Backend stores opaque values. Tagged keys can later be deleted by tag
// without scanning the keyspace. Every tag carries a generation that
// DeleteTagged advances, so a writer that loaded its value before an
// eviction can be refused.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context, tag string) (int64, error)
	// SetTagged stores value and indexes it under tag unless the tag has
	// moved past gen. It reports whether the value was stored.
	SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tag string, gen int64) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteTagged(ctx context.Context, tags ...string) error
}

type NoopBackend struct{}

func (NoopBackend) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopBackend) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopBackend) SetTagged(_ context.Context, _ string, _ []byte, _ time.Duration, _ string, _ int64) (bool, error) {
	return false, nil
}

func (NoopBackend) Delete(_ context.Context, _ ...string) error {
	return nil
}

func (NoopBackend) DeleteTagged(_ context.Context, _ ...string) error {
	return nil
}
