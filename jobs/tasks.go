// Package jobs carries the asynq plumbing between the API process, which
// publishes task completion events, and the worker process, which feeds them
// into the payroll workflow.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/openstipend/openstipend/internal/tasks"
)

const (
	// QueueDefault is the queue all completion events go through.
	QueueDefault = "default"
	// TaskTypeTaskCompleted is the asynq task type for approval task
	// completion events.
	TaskTypeTaskCompleted = "tasks:completed"
)

// NewTaskCompletedTask wraps a completion result as an asynq task.
func NewTaskCompletedTask(result tasks.Result) (*asynq.Task, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTaskCompleted, data), nil
}

// Client submits jobs to the queue. It implements tasks.Enqueuer.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// TaskCompleted publishes a completion event.
func (c *Client) TaskCompleted(ctx context.Context, result tasks.Result) error {
	task, err := NewTaskCompletedTask(result)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Dispatcher consumes completion events.
type Dispatcher interface {
	OnTaskCompleted(ctx context.Context, result tasks.Result) error
}

// HandleTaskCompleted adapts a Dispatcher into an asynq handler. Malformed
// payloads are dropped without retry.
func HandleTaskCompleted(dispatcher Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var result tasks.Result
		if err := json.Unmarshal(t.Payload(), &result); err != nil {
			return asynq.SkipRetry
		}
		return dispatcher.OnTaskCompleted(ctx, result)
	}
}
