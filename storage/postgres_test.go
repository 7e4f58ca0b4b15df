package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinakaran-p/vccrm/domain"
)

func TestBuildListQuery(t *testing.T) {
	query, args := buildListQuery(domain.TaskFilter{State: domain.StateOpen, AssigneeID: "u1"})
	want := `SELECT ` + taskColumns + ` FROM compliance_tasks WHERE state = $1 AND assignee_id = $2 ORDER BY created_at ASC, id ASC`
	if query != want {
		t.Fatalf("unexpected query:\n%s", query)
	}
	if diff := cmp.Diff([]any{"Open", "u1"}, args); diff != "" {
		t.Fatalf("unexpected args:\n%s", diff)
	}

	query, args = buildListQuery(domain.TaskFilter{})
	if len(args) != 0 || query != `SELECT `+taskColumns+` FROM compliance_tasks ORDER BY created_at ASC, id ASC` {
		t.Fatalf("unexpected unfiltered query %s %v", query, args)
	}
}

func newTestPgStore(t *testing.T) *PgStore {
	t.Helper()
	url := os.Getenv("VCCRM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VCCRM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	s := NewPgStore(pool)
	if err := s.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE compliance_tasks`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestPgStoreCompletionIsVersionChecked(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, sampleTask("pg"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != task.Version || got.Description != "pg" {
		t.Fatalf("unexpected row %#v", got)
	}

	done := got
	done.State = domain.StateCompleted
	next := sampleTask("pg")
	saved, spawned, err := s.SaveCompletion(ctx, done, &next)
	if err != nil {
		t.Fatalf("save completion: %v", err)
	}
	if saved.Version == got.Version || spawned == nil {
		t.Fatalf("unexpected completion result %#v %#v", saved, spawned)
	}
	if _, _, err := s.SaveCompletion(ctx, done, &next); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	all, err := s.ListTasks(ctx, domain.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two rows after a rejected duplicate completion, got %d", len(all))
	}
	if _, err := s.GetTask(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPgStoreKeepsDeadlineZone(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()

	task := sampleTask("monthly")
	task.Recurrence = domain.FrequencyMonthly
	task.Deadline = time.Date(2024, time.March, 1, 0, 0, 0, 0, ist)
	created, err := s.CreateTask(ctx, task)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, off := got.Deadline.Zone(); off != 19800 || !got.Deadline.Equal(task.Deadline) {
		t.Fatalf("deadline lost its zone: %v", got.Deadline)
	}
	next := domain.NextDueDate(got.Deadline, got.Recurrence)
	if want := time.Date(2024, time.April, 1, 0, 0, 0, 0, ist); !next.Equal(want) {
		t.Fatalf("next due date = %v, want %v", next, want)
	}

	got.Deadline = time.Date(2024, time.January, 31, 0, 0, 0, 0, ist)
	updated, err := s.UpdateTask(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	reread, err := s.GetTask(ctx, updated.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if next := domain.NextDueDate(reread.Deadline, reread.Recurrence); next.Day() != 29 || next.Month() != time.February {
		t.Fatalf("expected clamping to Feb 29 in the stored zone, got %v", next)
	}
}
