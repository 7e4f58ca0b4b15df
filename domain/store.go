package domain

import "context"

// TaskStore defines the persistence the engine relies on. Implementations
// assign identities and versions, reject stale writes with
// ErrConcurrencyConflict and report missing rows with ErrNotFound.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (ComplianceTask, error)
	// CreateTask inserts t, assigning ID and Version.
	CreateTask(ctx context.Context, t ComplianceTask) (ComplianceTask, error)
	// UpdateTask replaces the stored task if its version still equals t.Version.
	UpdateTask(ctx context.Context, t ComplianceTask) (ComplianceTask, error)
	// SaveCompletion atomically writes the completed task (version checked)
	// together with its successor, if any.
	SaveCompletion(ctx context.Context, done ComplianceTask, successor *ComplianceTask) (ComplianceTask, *ComplianceTask, error)
	// ListTasks returns tasks matching f ordered by creation time.
	ListTasks(ctx context.Context, f TaskFilter) ([]ComplianceTask, error)
}
