// Package tasks tracks approval tasks: externally resolved units of human or
// system approval work whose completion drives payroll state transitions.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates approval task states.
type TaskStatus string

const (
	StatusReceived  TaskStatus = "RECEIVED"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// Task is one approval work item referencing a business entity.
type Task struct {
	ID            uuid.UUID      `json:"id"`
	Source        string         `json:"source"`
	EntityID      uuid.UUID      `json:"entity_id"`
	BusinessEvent string         `json:"business_event"`
	Status        TaskStatus     `json:"status"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Result is the completion event published when a task resolves. Consumers
// must re-fetch entity state; the task may have been created long before.
type Result struct {
	TaskID        uuid.UUID `json:"task_id"`
	EntityID      uuid.UUID `json:"entity_id"`
	BusinessEvent string    `json:"business_event"`
	Success       bool      `json:"success"`
	ActorID       int64     `json:"actor_id"`
}
