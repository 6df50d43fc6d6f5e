package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presentationGenerator/models"
)

type fakePipe struct {
	redis.Pipeliner
	hashes map[string]map[string]any
	ttls   map[string]time.Duration
}

func (p *fakePipe) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := map[string]any{}
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				h[k] = val
			}
		}
	}
	p.hashes[key] = h
	return redis.NewIntResult(int64(len(h)), nil)
}

func (p *fakePipe) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	p.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (p *fakePipe) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return nil, nil
}

type fakeClient struct {
	redis.Cmdable
	pipe *fakePipe
}

func (c *fakeClient) TxPipeline() redis.Pipeliner {
	return c.pipe
}

func TestStatusCache_Set(t *testing.T) {
	pipe := &fakePipe{hashes: map[string]map[string]any{}, ttls: map[string]time.Duration{}}
	c := NewStatusCache(&fakeClient{pipe: pipe})

	err := c.Set(context.Background(), "t1", models.StatusContentGeneration, models.StageContent, 44)
	require.NoError(t, err)

	h := pipe.hashes["task:status:t1"]
	require.NotNil(t, h)
	assert.Equal(t, "content_generation", h["status"])
	assert.Equal(t, "content", h["stage"])
	assert.Equal(t, 44, h["progress"])
	assert.NotEmpty(t, h["updated_at"])
	assert.Equal(t, DefaultTTL, pipe.ttls["task:status:t1"])
}
