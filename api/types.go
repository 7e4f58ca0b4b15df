package api

import (
	"context"

	"github.com/dinakaran-p/vccrm/domain"
)

// TaskService is the task lifecycle the handlers drive. *domain.Engine
// implements it.
type TaskService interface {
	CreateTask(ctx context.Context, actor domain.Actor, in domain.NewTaskInput) (domain.ComplianceTask, error)
	GetTask(ctx context.Context, id string) (domain.ComplianceTask, error)
	ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.ComplianceTask, error)
	Stats(ctx context.Context) (domain.TaskStats, error)
	UpdateTask(ctx context.Context, id string, actor domain.Actor, patch domain.TaskPatch) (domain.Result, error)
	CompleteTask(ctx context.Context, id string, actor domain.Actor) (domain.Result, error)
	Record(ctx context.Context, actor domain.Actor, a domain.Activity)
}

// Authenticator resolves the caller from an Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// ActivityLister reads the audit trail of a task.
type ActivityLister interface {
	ListByTask(ctx context.Context, taskID string) ([]domain.Activity, error)
}
