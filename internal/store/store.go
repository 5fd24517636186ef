// Package store tracks per-request lifecycle in Redis so the gateway can
// answer status queries while the actual work happens in the worker. All
// writes are best-effort from the callers' point of view.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Statuses recorded for an OCR request, keyed by its correlation id.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// defaultTTL keeps finished entries from accumulating forever.
const defaultTTL = 24 * time.Hour

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: defaultTTL}
}

func key(id string) string { return "ocr:job:" + id }

// SetStatus records the current status and an updated_at timestamp for a
// request.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	k := key(id)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, k, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetJob returns the recorded fields for a request, or an empty map when
// nothing is known about the id.
func (s *Store) GetJob(ctx context.Context, id string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key(id)).Result()
}
