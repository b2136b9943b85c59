package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openstipend/openstipend/internal/platform/httpx"
)

// Repository defines approval-task data access.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Task, error)
	Create(ctx context.Context, task Task) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status TaskStatus) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Task, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, source, entity_id, business_event, status, payload, created_at, updated_at
FROM tasks WHERE id=$1`, id)
	return scanTask(row)
}

func (r *pgRepository) Create(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("tasks: encode payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO tasks (id, source, entity_id, business_event, status, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		task.ID, task.Source, task.EntityID, task.BusinessEvent, string(task.Status), payload)
	if err != nil {
		return fmt.Errorf("tasks: create: %w", err)
	}
	return nil
}

func (r *pgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status TaskStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return fmt.Errorf("tasks: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, httpx.ErrNotFound)
	}
	return nil
}

func (r *pgRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, source, entity_id, business_event, status, payload, created_at, updated_at
FROM tasks WHERE entity_id=$1 ORDER BY created_at`, entityID)
	if err != nil {
		return nil, fmt.Errorf("tasks: list by entity: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t       Task
		status  string
		payload []byte
	)
	err := row.Scan(&t.ID, &t.Source, &t.EntityID, &t.BusinessEvent, &status, &payload, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, httpx.ErrNotFound
		}
		return Task{}, fmt.Errorf("tasks: scan: %w", err)
	}
	t.Status = TaskStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return Task{}, fmt.Errorf("tasks: decode payload: %w", err)
		}
	}
	return t, nil
}
