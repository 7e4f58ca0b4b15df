package domain

import (
	"context"
	"time"
)

const (
	ActivityTaskCreated           = "task_created"
	ActivityTaskUpdated           = "task_updated"
	ActivityTaskCompleted         = "task_completed"
	ActivityTaskRecurred          = "task_recurred"
	ActivityTaskCompletionBlocked = "task_completion_blocked"
	ActivityTasksImported         = "tasks_imported"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// Activity records that something happened to a task.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TaskID    string    `json:"taskId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorRole string    `json:"actorRole,omitempty"`
	Details   string    `json:"details,omitempty"`
	Time      time.Time `json:"time"`
}

// ActivityRecorder receives activity events emitted by the engine.
type ActivityRecorder interface {
	Record(ctx context.Context, a Activity) error
}

// NopRecorder drops every activity.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Activity) error { return nil }
