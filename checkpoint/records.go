package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"presentationGenerator/models"
)

var errRecordExists = errors.New("checkpoint record exists")

// Records is the durable table of checkpoint rows keyed by
// (task_id, checkpoint_type). Insert never overwrites.
type Records interface {
	Insert(ctx context.Context, cp *models.Checkpoint) error
	Get(ctx context.Context, taskID string, stage models.Stage) (*models.Checkpoint, error)
	List(ctx context.Context, taskID string) ([]*models.Checkpoint, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type recordKey struct {
	taskID string
	stage  models.Stage
}

// MemoryRecords keeps checkpoint rows in process memory.
type MemoryRecords struct {
	mu   sync.Mutex
	rows map[recordKey]models.Checkpoint
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{rows: make(map[recordKey]models.Checkpoint)}
}

func (m *MemoryRecords) Insert(ctx context.Context, cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{cp.TaskID, cp.CheckpointType}
	if _, ok := m.rows[key]; ok {
		return errRecordExists
	}
	row := *cp
	row.Data = append([]byte(nil), cp.Data...)
	m.rows[key] = row
	return nil
}

func (m *MemoryRecords) Get(ctx context.Context, taskID string, stage models.Stage) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[recordKey{taskID, stage}]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return &row, nil
}

func (m *MemoryRecords) List(ctx context.Context, taskID string) ([]*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Checkpoint
	for key, row := range m.rows {
		if key.taskID != taskID {
			continue
		}
		row := row
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRecords) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, row := range m.rows {
		if row.TTL > 0 && row.TTL < now.Unix() {
			delete(m.rows, key)
			n++
		}
	}
	return n, nil
}
