package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"presentationGenerator/models"
)

const slideTTL = 24 * time.Hour

// SlideMirror copies edited slides to Redis for readers that only need one
// slide.
type SlideMirror struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewSlideMirror(client redis.Cmdable) *SlideMirror {
	return &SlideMirror{client: client, ttl: slideTTL}
}

func SlideKey(taskID string, n int) string {
	return fmt.Sprintf("presentation:%s:slide:%d", taskID, n)
}

func (m *SlideMirror) Put(ctx context.Context, taskID, version string, slide models.Slide) error {
	data, err := json.Marshal(struct {
		Version string       `json:"version"`
		Slide   models.Slide `json:"slide"`
	}{version, slide})
	if err != nil {
		return err
	}
	return m.client.Set(ctx, SlideKey(taskID, slide.SlideNumber), data, m.ttl).Err()
}
