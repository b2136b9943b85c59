package payroll

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/gateway"
	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/tasks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	submissions []gateway.Submission
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, sub gateway.Submission) error {
	if f.err != nil {
		return f.err
	}
	f.submissions = append(f.submissions, sub)
	return nil
}

type memTaskRepo struct {
	tasks map[uuid.UUID]tasks.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: map[uuid.UUID]tasks.Task{}}
}

func (m *memTaskRepo) Get(ctx context.Context, id uuid.UUID) (tasks.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return tasks.Task{}, httpx.ErrNotFound
	}
	return t, nil
}

func (m *memTaskRepo) Create(ctx context.Context, task tasks.Task) error {
	m.tasks[task.ID] = task
	return nil
}

func (m *memTaskRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status tasks.TaskStatus) error {
	t, ok := m.tasks[id]
	if !ok {
		return httpx.ErrNotFound
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *memTaskRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]tasks.Task, error) {
	var out []tasks.Task
	for _, t := range m.tasks {
		if t.EntityID == entityID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTaskRepo) byEvent(event string) []tasks.Task {
	var out []tasks.Task
	for _, t := range m.tasks {
		if t.BusinessEvent == event {
			out = append(out, t)
		}
	}
	return out
}

type captureEnqueuer struct {
	results []tasks.Result
	err     error
}

func (c *captureEnqueuer) TaskCompleted(ctx context.Context, result tasks.Result) error {
	if c.err != nil {
		return c.err
	}
	c.results = append(c.results, result)
	return nil
}

func newTaskService(repo tasks.Repository) *tasks.Service {
	return tasks.NewService(repo, &captureEnqueuer{}, testLogger())
}

var errBoom = errors.New("boom")

func noActorContext() context.Context {
	return context.Background()
}
