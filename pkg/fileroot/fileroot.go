// Package fileroot allocates the integer identifiers that tie a pending upload, its summary and its
// artifacts together. Values are millisecond timestamps bumped forward on collision.
package fileroot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// reservationPrefix is the Redis key prefix for claimed identifiers.
	reservationPrefix = "fileroot:"
	// reservationTTL bounds how long a claim outlives the upload that made it.
	reservationTTL = 24 * time.Hour
	// maxReserveAttempts caps the SETNX loop; each attempt advances by one.
	maxReserveAttempts = 64
)

// Generator hands out strictly increasing millisecond timestamps within one process.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewGenerator creates a generator backed by the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Next returns max(now in ms, previous+1).
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.now().UnixMilli()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}

// Observe moves the floor past a value allocated elsewhere, such as the largest stored fileRoot.
func (g *Generator) Observe(v int64) {
	g.mu.Lock()
	if v > g.last {
		g.last = v
	}
	g.mu.Unlock()
}

// RedisReserver claims each candidate in Redis so separate server processes never share a value.
type RedisReserver struct {
	gen    *Generator
	client *redis.Client
	logger *zap.Logger
}

// NewRedisReserver wraps gen with cross-process reservations.
func NewRedisReserver(gen *Generator, client *redis.Client, logger *zap.Logger) *RedisReserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisReserver{gen: gen, client: client, logger: logger}
}

// Next returns an identifier no other process has claimed in the last 24 hours.
func (r *RedisReserver) Next(ctx context.Context) (int64, error) {
	for i := 0; i < maxReserveAttempts; i++ {
		candidate := r.gen.Next()
		ok, err := r.client.SetNX(ctx, reservationPrefix+strconv.FormatInt(candidate, 10), 1, reservationTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("reserve file root: %w", err)
		}
		if ok {
			return candidate, nil
		}
		r.logger.Debug("file root taken by another process", zap.Int64("file_root", candidate))
	}
	return 0, fmt.Errorf("reserve file root: no free value after %d attempts", maxReserveAttempts)
}
