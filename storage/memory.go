package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/dinakaran-p/vccrm/domain"
)

// MemoryStore keeps tasks in process memory. It is used for local runs and
// tests; every write is serialised by a single mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.ComplianceTask
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: map[string]domain.ComplianceTask{}}
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (domain.ComplianceTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ComplianceTask{}, notFound(id)
	}
	return t, nil
}

func (m *MemoryStore) CreateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(t), nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersionLocked(t); err != nil {
		return domain.ComplianceTask{}, err
	}
	return m.replaceLocked(t), nil
}

func (m *MemoryStore) SaveCompletion(ctx context.Context, done domain.ComplianceTask, successor *domain.ComplianceTask) (domain.ComplianceTask, *domain.ComplianceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersionLocked(done); err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	saved := m.replaceLocked(done)
	if successor == nil {
		return saved, nil, nil
	}
	next := m.insertLocked(*successor)
	return saved, &next, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.ComplianceTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.ComplianceTask{}
	for _, id := range m.order {
		if t := m.tasks[id]; f.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) insertLocked(t domain.ComplianceTask) domain.ComplianceTask {
	t.ID = uuid.NewString()
	t.Version = "1"
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	return t
}

func (m *MemoryStore) checkVersionLocked(t domain.ComplianceTask) error {
	cur, ok := m.tasks[t.ID]
	if !ok {
		return notFound(t.ID)
	}
	if cur.Version != t.Version {
		return fmt.Errorf("task %s version %s: %w", t.ID, t.Version, domain.ErrConcurrencyConflict)
	}
	return nil
}

func (m *MemoryStore) replaceLocked(t domain.ComplianceTask) domain.ComplianceTask {
	v, _ := strconv.Atoi(t.Version)
	t.Version = strconv.Itoa(v + 1)
	m.tasks[t.ID] = t
	return t
}

func notFound(id string) error {
	return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
}

// MemoryAuditLog keeps activity trails in process memory.
type MemoryAuditLog struct {
	mu     sync.RWMutex
	byTask map[string][]domain.Activity
}

// NewMemoryAuditLog returns an empty MemoryAuditLog.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{byTask: map[string][]domain.Activity{}}
}

func (l *MemoryAuditLog) Append(ctx context.Context, a domain.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byTask[a.TaskID] = append(l.byTask[a.TaskID], a)
	return nil
}

func (l *MemoryAuditLog) ListByTask(ctx context.Context, taskID string) ([]domain.Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Activity{}, l.byTask[taskID]...), nil
}
