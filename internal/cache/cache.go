// Package cache backs the optional cross-run label cache: a byte-level
// Get/Set/Close interface with process-local memory and Redis
// implementations, plus the label memo built on top of it.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd byte store. Get reports presence explicitly so a
// missing key is not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// New selects a backend: Redis when addr is set, otherwise memory.
func New(addr, password string, db int) Cache {
	if addr == "" {
		return NewMemory()
	}
	return NewRedis(addr, password, db)
}
