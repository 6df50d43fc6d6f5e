package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgxpool.Pool the stores use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DBTX = (*pgxpool.Pool)(nil)

const tasksSchema = `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id    TEXT PRIMARY KEY,
		item       JSONB NOT NULL,
		status     TEXT GENERATED ALWAYS AS (item->>'status') STORED,
		version    TEXT GENERATED ALWAYS AS (item->>'version') STORED,
		ttl        BIGINT GENERATED ALWAYS AS (COALESCE((item->>'ttl')::BIGINT, 0)) STORED,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_ttl ON tasks(ttl);
`

type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tasks table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, tasksSchema); err != nil {
		return fmt.Errorf("migrate tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, taskID string, fields ...string) (Item, error) {
	query := `SELECT item FROM tasks WHERE task_id = $1`
	args := []any{taskID}
	if len(fields) > 0 {
		query = `
			SELECT COALESCE(
				(SELECT jsonb_object_agg(key, value) FROM jsonb_each(item) WHERE key = ANY($2::text[])),
				'{}'::jsonb)
			FROM tasks
			WHERE task_id = $1
		`
		args = append(args, fields)
	}

	var raw []byte
	if err := s.db.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode task item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) PutItem(ctx context.Context, item Item, cond Condition) error {
	taskID, err := stringAttr(item, AttrTaskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode task item: %w", err)
	}

	switch {
	case cond.MustNotExist:
		tag, err := s.db.Exec(ctx,
			`INSERT INTO tasks (task_id, item) VALUES ($1, $2) ON CONFLICT (task_id) DO NOTHING`,
			taskID, data)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConditionFailed
		}
		return nil

	case cond.constrained():
		where, args := conditionSQL(cond, []any{taskID, data})
		tag, err := s.db.Exec(ctx,
			`UPDATE tasks SET item = $2, updated_at = NOW() WHERE task_id = $1`+where, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConditionFailed
		}
		return nil

	default:
		_, err := s.db.Exec(ctx, `
			INSERT INTO tasks (task_id, item) VALUES ($1, $2)
			ON CONFLICT (task_id) DO UPDATE SET item = EXCLUDED.item, updated_at = NOW()`,
			taskID, data)
		return err
	}
}

func (s *PostgresStore) UpdateItem(ctx context.Context, taskID string, patch Item, cond Condition) (Item, error) {
	set := make(Item, len(patch))
	removed := []string{}
	for k, v := range patch {
		if v == nil {
			removed = append(removed, k)
			continue
		}
		set[k] = v
	}

	normalized, err := normalize(set)
	if err != nil {
		return nil, err
	}
	for k, v := range normalized {
		if v == nil {
			removed = append(removed, k)
			delete(normalized, k)
		}
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	where, args := conditionSQL(cond, []any{taskID, data, removed})
	query := `
		UPDATE tasks
		SET item = (item || $2::jsonb) - $3::text[], updated_at = NOW()
		WHERE task_id = $1` + where + `
		RETURNING item`

	var raw []byte
	if err := s.db.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missOrConflict(ctx, taskID)
		}
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode task item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE ttl > 0 AND ttl < $1`, now.Unix())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) missOrConflict(ctx context.Context, taskID string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, taskID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTaskNotFound
	}
	return ErrConditionFailed
}

// conditionSQL appends the predicates of cond to a WHERE clause whose
// positional arguments are already in args.
func conditionSQL(cond Condition, args []any) (string, []any) {
	var b strings.Builder
	if len(cond.StatusIn) > 0 {
		statuses := make([]string, len(cond.StatusIn))
		for i, st := range cond.StatusIn {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		fmt.Fprintf(&b, " AND status = ANY($%d::text[])", len(args))
	}
	if cond.Version != "" {
		args = append(args, cond.Version)
		fmt.Fprintf(&b, " AND version = $%d", len(args))
	}
	return b.String(), args
}
