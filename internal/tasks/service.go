package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

// Enqueuer publishes completion events for asynchronous consumption. The
// worker process feeds them into the payroll workflow dispatcher.
type Enqueuer interface {
	TaskCompleted(ctx context.Context, result Result) error
}

// CreateInput describes a new approval task.
type CreateInput struct {
	Source        string
	EntityID      uuid.UUID
	BusinessEvent string
	Payload       map[string]any
}

// Service owns approval task lifecycle.
type Service struct {
	repo     Repository
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, enqueuer Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, enqueuer: enqueuer, logger: logger}
}

// Create registers a new task in status RECEIVED.
func (s *Service) Create(ctx context.Context, input CreateInput) (Task, error) {
	if input.Source == "" || input.BusinessEvent == "" {
		return Task{}, fmt.Errorf("task source and business event required: %w", httpx.ErrValidation)
	}
	task := Task{
		ID:            uuid.New(),
		Source:        input.Source,
		EntityID:      input.EntityID,
		BusinessEvent: input.BusinessEvent,
		Status:        StatusReceived,
		Payload:       input.Payload,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Complete resolves a task and publishes its completion event. Completing an
// already resolved task is a conflict.
func (s *Service) Complete(ctx context.Context, taskID uuid.UUID, success bool) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return httpx.ErrUnauthorized
	}

	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusReceived {
		return fmt.Errorf("task %s already %s: %w", taskID, task.Status, httpx.ErrConflict)
	}

	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	if err := s.repo.UpdateStatus(ctx, taskID, status); err != nil {
		return err
	}

	result := Result{
		TaskID:        task.ID,
		EntityID:      task.EntityID,
		BusinessEvent: task.BusinessEvent,
		Success:       success,
		ActorID:       actor.ID,
	}
	if err := s.enqueuer.TaskCompleted(ctx, result); err != nil {
		// The status write stands; surface the enqueue failure so the
		// caller can retry publication.
		return fmt.Errorf("tasks: publish completion: %w", err)
	}
	s.logger.Info("task completed",
		slog.String("task_id", task.ID.String()),
		slog.String("business_event", task.BusinessEvent),
		slog.Bool("success", success))
	return nil
}

// ListByEntity returns tasks attached to an entity, oldest first.
func (s *Service) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Task, error) {
	return s.repo.ListByEntity(ctx, entityID)
}
