package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"presentationGenerator/models"
)

// DefaultTTL keeps mirrored status around a little longer than a typical run.
const DefaultTTL = 24 * time.Hour

// StatusCache mirrors the latest status of running tasks into Redis so
// pollers can read it without touching the task store.
type StatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatusCache(client redis.Cmdable) *StatusCache {
	return &StatusCache{client: client, ttl: DefaultTTL}
}

func Key(taskID string) string {
	return "task:status:" + taskID
}

func (c *StatusCache) Set(ctx context.Context, taskID string, status models.TaskStatus, stage models.Stage, progress int) error {
	key := Key(taskID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     string(status),
		"stage":      string(stage),
		"progress":   progress,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
