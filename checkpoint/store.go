// Package checkpoint persists the output of each completed stage so a
// redelivered task can resume instead of regenerating. Checkpoints are
// write-once per (task, stage).
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"presentationGenerator/blob"
	"presentationGenerator/models"
)

var (
	ErrCheckpointExists   = errors.New("checkpoint already exists")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

const (
	// InlineLimit is the largest payload kept in the record itself.
	InlineLimit = 64 * 1024

	DefaultRetention = 7 * 24 * time.Hour
)

type Store struct {
	records   Records
	blobs     blob.Store
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

// NewStore builds a checkpoint store. blobs may be nil, in which case every
// payload is kept inline.
func NewStore(records Records, blobs blob.Store, logger *zap.Logger) *Store {
	return &Store{
		records:   records,
		blobs:     blobs,
		logger:    logger,
		retention: DefaultRetention,
		now:       time.Now,
	}
}

// WithRetention overrides how long checkpoints are kept.
func (s *Store) WithRetention(d time.Duration) *Store {
	s.retention = d
	return s
}

func PayloadKey(taskID string, stage models.Stage) string {
	return fmt.Sprintf("checkpoints/%s/%s.json", taskID, stage)
}

// Save writes the checkpoint for (cp.TaskID, cp.CheckpointType). A second
// save for the same key leaves the first one in place and returns
// ErrCheckpointExists.
func (s *Store) Save(ctx context.Context, cp models.Checkpoint) error {
	if cp.TaskID == "" || cp.CheckpointType == "" {
		return fmt.Errorf("checkpoint needs task_id and checkpoint_type")
	}
	if _, err := models.ParseStage(string(cp.CheckpointType)); err != nil {
		return err
	}

	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.TTL == 0 {
		cp.TTL = cp.CreatedAt.Add(s.retention).Unix()
	}

	if _, err := s.records.Get(ctx, cp.TaskID, cp.CheckpointType); err == nil {
		return ErrCheckpointExists
	} else if !errors.Is(err, ErrCheckpointNotFound) {
		return err
	}

	if len(cp.Data) > InlineLimit && s.blobs != nil {
		key := PayloadKey(cp.TaskID, cp.CheckpointType)
		if err := s.blobs.PutObject(ctx, key, cp.Data, "application/json"); err != nil {
			return fmt.Errorf("offload checkpoint payload: %w", err)
		}
		s.logger.Debug("Checkpoint payload offloaded",
			zap.String("task_id", cp.TaskID),
			zap.String("stage", string(cp.CheckpointType)),
			zap.Int("size", len(cp.Data)),
		)
		cp.DataKey = key
		cp.Data = nil
	}

	if err := s.records.Insert(ctx, &cp); err != nil {
		if errors.Is(err, errRecordExists) {
			return ErrCheckpointExists
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint with its payload resolved.
func (s *Store) Load(ctx context.Context, taskID string, stage models.Stage) (*models.Checkpoint, error) {
	cp, err := s.records.Get(ctx, taskID, stage)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// List returns every checkpoint of a task, oldest first, payloads resolved.
func (s *Store) List(ctx context.Context, taskID string) ([]*models.Checkpoint, error) {
	cps, err := s.records.List(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if err := s.resolve(ctx, cp); err != nil {
			return nil, err
		}
	}
	return cps, nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	return s.records.DeleteExpired(ctx, s.now())
}

func (s *Store) resolve(ctx context.Context, cp *models.Checkpoint) error {
	if cp.DataKey == "" || len(cp.Data) > 0 {
		return nil
	}
	if s.blobs == nil {
		return fmt.Errorf("checkpoint %s/%s is offloaded but no blob store is configured", cp.TaskID, cp.CheckpointType)
	}
	data, err := s.blobs.GetObject(ctx, cp.DataKey)
	if err != nil {
		return fmt.Errorf("load checkpoint payload %s: %w", cp.DataKey, err)
	}
	cp.Data = data
	return nil
}
