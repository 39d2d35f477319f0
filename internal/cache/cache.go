package cache

import (
	"context"
	"time"

	"tindahan/backend/internal/domain"
)

// ReadingCache memoizes non-incrementing X reading payloads keyed by shift
// and totals revision. A stale revision simply misses.
type ReadingCache interface {
	Get(ctx context.Context, key string) (*domain.Reading, bool, error)
	Set(ctx context.Context, key string, value *domain.Reading, ttl time.Duration) error
}

type NoopReadingCache struct{}

func (NoopReadingCache) Get(_ context.Context, _ string) (*domain.Reading, bool, error) {
	return nil, false, nil
}

func (NoopReadingCache) Set(_ context.Context, _ string, _ *domain.Reading, _ time.Duration) error {
	return nil
}
