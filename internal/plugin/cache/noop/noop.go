package noop

import (
	"context"

	"github.com/chirino/notification-cache/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.NormalizedCache, error) {
			return &noopCache{}, nil
		},
	})
}

// noopCache never holds anything; every list read is a miss.
type noopCache struct{}

func (n *noopCache) Available() bool { return false }
func (n *noopCache) PutEntities(_ context.Context, _ string, _ map[string][]byte) error {
	return nil
}
func (n *noopCache) GetEntity(_ context.Context, _, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (n *noopCache) DeleteEntities(_ context.Context, _ string, _ ...string) error { return nil }
func (n *noopCache) SetList(_ context.Context, _ string, _ []cache.Ref) error { return nil }
func (n *noopCache) GetList(_ context.Context, _ string) ([]cache.Ref, bool, error) {
	return nil, false, nil
}
func (n *noopCache) Invalidate(_ context.Context, _ ...string) error { return nil }
func (n *noopCache) GC(_ context.Context) (int, error) { return 0, nil }
func (n *noopCache) Close() error { return nil }

var _ cache.NormalizedCache = (*noopCache)(nil)
