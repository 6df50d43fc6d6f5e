package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"presentationGenerator/api/dto"
)

const (
	statusKeyPrefix = "task:view:"
	statusTTL       = 10 * time.Minute
)

// ErrMiss is returned when no view is cached for the task.
var ErrMiss = errors.New("cache miss")

// StatusCache holds projected views of terminal tasks. Running tasks are
// never cached since their progress moves.
type StatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatusCache(client redis.Cmdable) *StatusCache {
	return &StatusCache{client: client, ttl: statusTTL}
}

func statusKey(taskID string) string {
	return fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
}

func (sc *StatusCache) Get(ctx context.Context, taskID string) (*dto.StatusView, error) {
	data, err := sc.client.Get(ctx, statusKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}

	var view dto.StatusView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decode cached view: %w", err)
	}
	return &view, nil
}

func (sc *StatusCache) Set(ctx context.Context, view *dto.StatusView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return sc.client.Set(ctx, statusKey(view.TaskID), data, sc.ttl).Err()
}

func (sc *StatusCache) Delete(ctx context.Context, taskID string) error {
	return sc.client.Del(ctx, statusKey(taskID)).Err()
}
