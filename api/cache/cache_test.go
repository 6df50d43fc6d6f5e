package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presentationGenerator/api/dto"
	"presentationGenerator/models"
)

// fakeRedis implements the handful of commands the caches issue.
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestStatusCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	sc := NewStatusCache(rdb)

	_, err := sc.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrMiss)

	view := &dto.StatusView{
		TaskID:   "t1",
		Status:   string(models.StatusCompleted),
		Progress: 100,
		Result:   &dto.ResultView{Formats: []string{"json"}, SlideCount: 5},
		Links:    dto.Links{"self": "/tasks/t1"},
	}
	require.NoError(t, sc.Set(ctx, view))
	assert.Equal(t, 10*time.Minute, rdb.ttls["task:view:t1"])

	got, err := sc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, view, got)

	require.NoError(t, sc.Delete(ctx, "t1"))
	_, err = sc.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSlideMirror_Put(t *testing.T) {
	rdb := newFakeRedis()
	m := NewSlideMirror(rdb)

	slide := models.Slide{SlideNumber: 3, Title: "Costs", Content: "Lower every year"}
	require.NoError(t, m.Put(context.Background(), "t1", "v2", slide))

	raw, ok := rdb.data["presentation:t1:slide:3"]
	require.True(t, ok)

	var got struct {
		Version string       `json:"version"`
		Slide   models.Slide `json:"slide"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "v2", got.Version)
	assert.Equal(t, "Costs", got.Slide.Title)
	assert.Equal(t, 24*time.Hour, rdb.ttls["presentation:t1:slide:3"])
}
