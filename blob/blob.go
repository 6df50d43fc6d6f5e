// Package blob stores presentation artifacts, images and offloaded
// checkpoint payloads.
package blob

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("blob: object not found")

type Store interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// HeadObject returns the object size, or ErrObjectNotFound.
	HeadObject(ctx context.Context, key string) (int64, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
