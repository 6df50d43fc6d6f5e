package repository

import (
	"context"
	"errors"
	"time"

	"presentationGenerator/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrConditionFailed   = errors.New("conditional write failed")
)

// Condition guards a write. Empty fields impose no constraint.
type Condition struct {
	MustNotExist bool
	StatusIn     []models.TaskStatus
	Version      string
}

func (c Condition) matches(item Item) bool {
	if len(c.StatusIn) > 0 {
		status, _ := item[AttrStatus].(string)
		found := false
		for _, s := range c.StatusIn {
			if string(s) == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Version != "" {
		version, _ := item[AttrVersion].(string)
		if version != c.Version {
			return false
		}
	}
	return true
}

func (c Condition) constrained() bool {
	return len(c.StatusIn) > 0 || c.Version != ""
}

// Store is the durable key-value store holding task records keyed by task_id.
//
// UpdateItem merges patch into the stored record; a nil value in patch
// removes the attribute.
type Store interface {
	GetItem(ctx context.Context, taskID string, fields ...string) (Item, error)
	PutItem(ctx context.Context, item Item, cond Condition) error
	UpdateItem(ctx context.Context, taskID string, patch Item, cond Condition) (Item, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
