package blob

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
)

const (
	BackendS3 = "s3"
	BackendFS = "fs"
)

type Config struct {
	Backend string
	Bucket  string
	Prefix  string
	Region  string
	Dir     string
	BaseURL string
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("blob backend s3 needs a bucket")
		}
		store, err := NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix, Region: cfg.Region})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendFS:
		return NewFSStore(afero.NewOsFs(), cfg.Dir, cfg.BaseURL), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}
