package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinakaran-p/vccrm/domain"
)

// PgStore is a PostgreSQL-backed task store. A monotonically increasing
// version column guards concurrent writers.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the compliance_tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS compliance_tasks (
			id             TEXT PRIMARY KEY,
			description    TEXT NOT NULL,
			deadline       TIMESTAMPTZ NOT NULL,
			deadline_zone  TEXT NOT NULL DEFAULT '',
			deadline_offset INTEGER NOT NULL DEFAULT 0,
			category       TEXT NOT NULL,
			state          TEXT NOT NULL DEFAULT 'Open',
			recurrence     TEXT NOT NULL DEFAULT '',
			predecessor_id TEXT NOT NULL DEFAULT '',
			assignee_id    TEXT NOT NULL,
			reviewer_id    TEXT NOT NULL DEFAULT '',
			approver_id    TEXT NOT NULL DEFAULT '',
			created_by     TEXT NOT NULL DEFAULT '',
			completed_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			version        BIGINT NOT NULL DEFAULT 1
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		ALTER TABLE compliance_tasks
			ADD COLUMN IF NOT EXISTS deadline_zone TEXT NOT NULL DEFAULT '',
			ADD COLUMN IF NOT EXISTS deadline_offset INTEGER NOT NULL DEFAULT 0`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_compliance_tasks_state ON compliance_tasks(state)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_compliance_tasks_assignee ON compliance_tasks(assignee_id)`)
	return err
}

const taskColumns = `id, description, deadline, deadline_zone, deadline_offset, category, state, recurrence,
	predecessor_id, assignee_id, reviewer_id, approver_id, created_by, completed_at, created_at, updated_at, version`

func (s *PgStore) GetTask(ctx context.Context, id string) (domain.ComplianceTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM compliance_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ComplianceTask{}, notFound(id)
	}
	if err != nil {
		return domain.ComplianceTask{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PgStore) CreateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	t.ID = uuid.Must(uuid.NewV7()).String()
	if err := insertTask(ctx, s.pool, &t); err != nil {
		return domain.ComplianceTask{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *PgStore) UpdateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	if err := updateTask(ctx, s.pool, &t); err != nil {
		return domain.ComplianceTask{}, err
	}
	return t, nil
}

// SaveCompletion writes the completed row and its successor in one transaction.
func (s *PgStore) SaveCompletion(ctx context.Context, done domain.ComplianceTask, successor *domain.ComplianceTask) (domain.ComplianceTask, *domain.ComplianceTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ComplianceTask{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateTask(ctx, tx, &done); err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	var next *domain.ComplianceTask
	if successor != nil {
		n := *successor
		n.ID = uuid.Must(uuid.NewV7()).String()
		if err := insertTask(ctx, tx, &n); err != nil {
			return domain.ComplianceTask{}, nil, fmt.Errorf("insert successor: %w", err)
		}
		next = &n
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ComplianceTask{}, nil, fmt.Errorf("commit completion: %w", err)
	}
	return done, next, nil
}

func (s *PgStore) ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.ComplianceTask, error) {
	query, args := buildListQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.ComplianceTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func buildListQuery(f domain.TaskFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		args = append(args, value)
		where = append(where, column+" = $"+strconv.Itoa(len(args)))
	}
	if f.State != "" {
		add("state", string(f.State))
	}
	if f.Category != "" {
		add("category", string(f.Category))
	}
	if f.AssigneeID != "" {
		add("assignee_id", f.AssigneeID)
	}
	query := `SELECT ` + taskColumns + ` FROM compliance_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	return query + ` ORDER BY created_at ASC, id ASC`, args
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTask(ctx context.Context, db queryRower, t *domain.ComplianceTask) error {
	var version int64
	zone, offset := deadlineZone(t.Deadline)
	err := db.QueryRow(ctx, `
		INSERT INTO compliance_tasks (id, description, deadline, deadline_zone, deadline_offset, category, state,
			recurrence, predecessor_id, assignee_id, reviewer_id, approver_id, created_by, completed_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING version`,
		t.ID, t.Description, t.Deadline, zone, offset, string(t.Category), string(t.State), string(t.Recurrence),
		t.PredecessorID, t.AssigneeID, t.ReviewerID, t.ApproverID, t.CreatedBy, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	).Scan(&version)
	if err != nil {
		return err
	}
	t.Version = strconv.FormatInt(version, 10)
	return nil
}

// updateTask replaces every mutable column if the stored version still matches.
func updateTask(ctx context.Context, db queryRower, t *domain.ComplianceTask) error {
	expected, err := strconv.ParseInt(t.Version, 10, 64)
	if err != nil {
		return fmt.Errorf("task %s has invalid version %q: %w", t.ID, t.Version, domain.ErrConcurrencyConflict)
	}
	var version int64
	zone, offset := deadlineZone(t.Deadline)
	err = db.QueryRow(ctx, `
		UPDATE compliance_tasks SET
			description = $2, deadline = $3, deadline_zone = $4, deadline_offset = $5, category = $6, state = $7,
			recurrence = $8, predecessor_id = $9, assignee_id = $10, reviewer_id = $11, approver_id = $12,
			completed_at = $13, updated_at = $14, version = version + 1
		WHERE id = $1 AND version = $15
		RETURNING version`,
		t.ID, t.Description, t.Deadline, zone, offset, string(t.Category), string(t.State), string(t.Recurrence),
		t.PredecessorID, t.AssigneeID, t.ReviewerID, t.ApproverID, t.CompletedAt, t.UpdatedAt, expected,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM compliance_tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update task %s: %w", t.ID, err)
		}
		if !exists {
			return notFound(t.ID)
		}
		return fmt.Errorf("task %s version %d: %w", t.ID, expected, domain.ErrConcurrencyConflict)
	}
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	t.Version = strconv.FormatInt(version, 10)
	return nil
}

func scanTask(row pgx.Row) (domain.ComplianceTask, error) {
	var (
		t                           domain.ComplianceTask
		category, state, recurrence string
		zone                        string
		offset                      int32
		completedAt                 *time.Time
		version                     int64
	)
	err := row.Scan(&t.ID, &t.Description, &t.Deadline, &zone, &offset, &category, &state, &recurrence,
		&t.PredecessorID, &t.AssigneeID, &t.ReviewerID, &t.ApproverID, &t.CreatedBy, &completedAt,
		&t.CreatedAt, &t.UpdatedAt, &version)
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	t.Deadline = inZone(t.Deadline, zone, int(offset))
	t.Category = domain.Category(category)
	t.State = domain.TaskState(state)
	t.Recurrence = domain.Frequency(recurrence)
	t.CompletedAt = completedAt
	t.Version = strconv.FormatInt(version, 10)
	return t, nil
}
