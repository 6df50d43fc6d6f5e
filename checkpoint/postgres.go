package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"presentationGenerator/models"
	"presentationGenerator/repository"
)

const checkpointsSchema = `
	CREATE TABLE IF NOT EXISTS checkpoints (
		task_id         TEXT NOT NULL,
		checkpoint_type TEXT NOT NULL,
		data            BYTEA,
		data_key        TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ttl             BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (task_id, checkpoint_type)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_ttl ON checkpoints(ttl);
`

type PostgresRecords struct {
	db repository.DBTX
}

func NewPostgresRecords(db repository.DBTX) *PostgresRecords {
	return &PostgresRecords{db: db}
}

func (r *PostgresRecords) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, checkpointsSchema); err != nil {
		return fmt.Errorf("migrate checkpoints: %w", err)
	}
	return nil
}

func (r *PostgresRecords) Insert(ctx context.Context, cp *models.Checkpoint) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO checkpoints (task_id, checkpoint_type, data, data_key, created_at, ttl)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, checkpoint_type) DO NOTHING
	`, cp.TaskID, string(cp.CheckpointType), cp.Data, cp.DataKey, cp.CreatedAt, cp.TTL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errRecordExists
	}
	return nil
}

func (r *PostgresRecords) Get(ctx context.Context, taskID string, stage models.Stage) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{}
	var kind string
	err := r.db.QueryRow(ctx, `
		SELECT task_id, checkpoint_type, data, data_key, created_at, ttl
		FROM checkpoints
		WHERE task_id = $1 AND checkpoint_type = $2
	`, taskID, string(stage)).Scan(&cp.TaskID, &kind, &cp.Data, &cp.DataKey, &cp.CreatedAt, &cp.TTL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	cp.CheckpointType = models.Stage(kind)
	return cp, nil
}

func (r *PostgresRecords) List(ctx context.Context, taskID string) ([]*models.Checkpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT task_id, checkpoint_type, data, data_key, created_at, ttl
		FROM checkpoints
		WHERE task_id = $1
		ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		cp := &models.Checkpoint{}
		var kind string
		if err := rows.Scan(&cp.TaskID, &kind, &cp.Data, &cp.DataKey, &cp.CreatedAt, &cp.TTL); err != nil {
			return nil, err
		}
		cp.CheckpointType = models.Stage(kind)
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (r *PostgresRecords) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM checkpoints WHERE ttl > 0 AND ttl < $1`, now.Unix())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
