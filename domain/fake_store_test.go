package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string]ComplianceTask
	nextID int

	// conflicts makes the next N version-checked writes fail.
	conflicts int
	// beforeConflict runs when an injected conflict fires, simulating the
	// racing writer.
	beforeConflict func(f *fakeStore)
	getErr         error

	creates     int
	completions int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]ComplianceTask{}}
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (ComplianceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return ComplianceTask{}, f.getErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return ComplianceTask{}, taskNotFound(id)
	}
	return t, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, t ComplianceTask) (ComplianceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(t), nil
}

func (f *fakeStore) insertLocked(t ComplianceTask) ComplianceTask {
	f.nextID++
	f.creates++
	t.ID = fmt.Sprintf("task-%d", f.nextID)
	t.Version = "1"
	f.tasks[t.ID] = t
	return t
}

func (f *fakeStore) checkLocked(t ComplianceTask) error {
	if f.conflicts > 0 {
		f.conflicts--
		if f.beforeConflict != nil {
			f.beforeConflict(f)
		}
		return ErrConcurrencyConflict
	}
	cur, ok := f.tasks[t.ID]
	if !ok {
		return taskNotFound(t.ID)
	}
	if cur.Version != t.Version {
		return ErrConcurrencyConflict
	}
	return nil
}

func (f *fakeStore) bumpLocked(t ComplianceTask) ComplianceTask {
	v, _ := strconv.Atoi(t.Version)
	t.Version = strconv.Itoa(v + 1)
	f.tasks[t.ID] = t
	return t
}

func (f *fakeStore) UpdateTask(ctx context.Context, t ComplianceTask) (ComplianceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked(t); err != nil {
		return ComplianceTask{}, err
	}
	return f.bumpLocked(t), nil
}

func (f *fakeStore) SaveCompletion(ctx context.Context, done ComplianceTask, successor *ComplianceTask) (ComplianceTask, *ComplianceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked(done); err != nil {
		return ComplianceTask{}, nil, err
	}
	f.completions++
	saved := f.bumpLocked(done)
	if successor == nil {
		return saved, nil, nil
	}
	next := f.insertLocked(*successor)
	return saved, &next, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, filter TaskFilter) ([]ComplianceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ComplianceTask
	for _, t := range f.tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := strconv.Atoi(out[i].ID[len("task-"):])
		nj, _ := strconv.Atoi(out[j].ID[len("task-"):])
		return ni < nj
	})
	return out, nil
}

// put stores t as-is, for seeding state directly.
func (f *fakeStore) put(t ComplianceTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Version == "" {
		t.Version = "1"
	}
	f.tasks[t.ID] = t
}

func (f *fakeStore) setState(id string, s TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.State = s
	f.bumpLocked(t)
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type recordingRecorder struct {
	mu         sync.Mutex
	activities []Activity
	err        error
}

func (r *recordingRecorder) Record(ctx context.Context, a Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return r.err
}

func (r *recordingRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.activities))
	for i, a := range r.activities {
		out[i] = a.Type
	}
	return out
}

var errBoom = errors.New("boom")
