// Package computed memoizes derived artifacts for the lifetime of one run.
// Producers are pure functions of the raw artifact set and other computed
// artifacts; the cache guarantees each distinct computation runs at most
// once per run, even when audits request it concurrently.
package computed

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"pharos/internal/fault"
)

// Cache is a per-run memoization table. The zero value is not usable; one
// cache serves exactly one run and is discarded with it.
type Cache struct {
	group singleflight.Group

	mu   sync.Mutex
	done map[string]entry
}

type entry struct {
	value any
	err   error
}

func NewCache() *Cache {
	return &Cache{done: map[string]entry{}}
}

// pathKey carries the chain of computations in flight on this goroutine,
// so a producer requesting its own (possibly transitive) dependency fails
// fast instead of deadlocking inside the flight group.
type pathKey struct{}

func requestPath(ctx context.Context) []string {
	p, _ := ctx.Value(pathKey{}).([]string)
	return p
}

// GetOrCompute returns the cached value for key, or runs fn exactly once
// to produce it. Concurrent callers for the same key share one in-flight
// computation. Errors are cached too: a failed computation is not retried
// within the run.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.done[key]; ok {
		c.mu.Unlock()
		return e.value, e.err
	}
	c.mu.Unlock()

	path := requestPath(ctx)
	for _, p := range path {
		if p == key {
			return nil, fault.Newf(fault.CodeCircularDependency,
				"computed artifact cycle: %s", strings.Join(append(path, key), " -> "))
		}
	}
	ctx = context.WithValue(ctx, pathKey{}, append(append([]string{}, path...), key))

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fn(ctx)
		c.mu.Lock()
		c.done[key] = entry{value: value, err: err}
		c.mu.Unlock()
		return value, err
	})
	return v, err
}

// Get is the typed front of GetOrCompute for producers with concrete
// result types.
func Get[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fault.Newf(fault.CodeUnknown, "computed artifact %s has unexpected type %T", key, v)
	}
	return out, nil
}
