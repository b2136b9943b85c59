package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

type memRepo struct {
	tasks map[uuid.UUID]Task
}

func newMemRepo() *memRepo {
	return &memRepo{tasks: map[uuid.UUID]Task{}}
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, httpx.ErrNotFound
	}
	return t, nil
}

func (m *memRepo) Create(ctx context.Context, task Task) error {
	m.tasks[task.ID] = task
	return nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status TaskStatus) error {
	t, ok := m.tasks[id]
	if !ok {
		return httpx.ErrNotFound
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *memRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Task, error) {
	var out []Task
	for _, t := range m.tasks {
		if t.EntityID == entityID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeEnqueuer struct {
	results []Result
	err     error
}

func (f *fakeEnqueuer) TaskCompleted(ctx context.Context, result Result) error {
	if f.err != nil {
		return f.err
	}
	f.results = append(f.results, result)
	return nil
}

func fixture(t *testing.T) (*memRepo, *fakeEnqueuer, *Service) {
	t.Helper()
	repo := newMemRepo()
	enq := &fakeEnqueuer{}
	return repo, enq, NewService(repo, enq, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func actorCtx() context.Context {
	return shared.ContextWithActor(context.Background(), &shared.Actor{ID: 3, Email: "approver@example.org"})
}

func TestCreateRegistersReceivedTask(t *testing.T) {
	repo, _, svc := fixture(t)

	task, err := svc.Create(context.Background(), CreateInput{
		Source:        "payroll",
		EntityID:      uuid.New(),
		BusinessEvent: "payroll_accept",
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, task.Status)
	require.Contains(t, repo.tasks, task.ID)
}

func TestCreateRequiresSourceAndEvent(t *testing.T) {
	_, _, svc := fixture(t)
	_, err := svc.Create(context.Background(), CreateInput{Source: "payroll"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCompletePublishesResult(t *testing.T) {
	repo, enq, svc := fixture(t)
	task, _ := svc.Create(context.Background(), CreateInput{
		Source:        "payroll",
		EntityID:      uuid.New(),
		BusinessEvent: "payroll_accept",
	})

	require.NoError(t, svc.Complete(actorCtx(), task.ID, true))

	require.Equal(t, StatusCompleted, repo.tasks[task.ID].Status)
	require.Len(t, enq.results, 1)
	result := enq.results[0]
	require.Equal(t, task.ID, result.TaskID)
	require.Equal(t, task.EntityID, result.EntityID)
	require.Equal(t, "payroll_accept", result.BusinessEvent)
	require.True(t, result.Success)
	require.Equal(t, int64(3), result.ActorID)
}

func TestCompleteFailureMarksFailed(t *testing.T) {
	repo, enq, svc := fixture(t)
	task, _ := svc.Create(context.Background(), CreateInput{
		Source:        "payroll",
		EntityID:      uuid.New(),
		BusinessEvent: "payroll_accept",
	})

	require.NoError(t, svc.Complete(actorCtx(), task.ID, false))
	require.Equal(t, StatusFailed, repo.tasks[task.ID].Status)
	require.False(t, enq.results[0].Success)
}

func TestCompleteRequiresActor(t *testing.T) {
	_, _, svc := fixture(t)
	err := svc.Complete(context.Background(), uuid.New(), true)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestCompleteResolvedTaskIsConflict(t *testing.T) {
	_, _, svc := fixture(t)
	task, _ := svc.Create(context.Background(), CreateInput{
		Source:        "payroll",
		EntityID:      uuid.New(),
		BusinessEvent: "payroll_accept",
	})

	require.NoError(t, svc.Complete(actorCtx(), task.ID, true))
	err := svc.Complete(actorCtx(), task.ID, true)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCompleteSurfacesEnqueueFailure(t *testing.T) {
	repo, enq, svc := fixture(t)
	enq.err = errors.New("redis down")
	task, _ := svc.Create(context.Background(), CreateInput{
		Source:        "payroll",
		EntityID:      uuid.New(),
		BusinessEvent: "payroll_accept",
	})

	err := svc.Complete(actorCtx(), task.ID, true)
	require.Error(t, err)
	// the status write stands even when publication fails
	require.Equal(t, StatusCompleted, repo.tasks[task.ID].Status)
}
