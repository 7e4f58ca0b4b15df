package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/dinakaran-p/vccrm/domain"
)

// taskPartition is the single partition every task lives in. Entity group
// transactions only span one partition, and completion writes two rows.
const taskPartition = "compliance-task"

const edmDateTime = "Edm.DateTime"

// TableStore persists tasks in Azure Table Storage. Entity ETags act as the
// optimistic concurrency token.
type TableStore struct {
	table *aztables.Client
}

// NewTableStore creates a TableStore for the given table.
func NewTableStore(connStr, tasksTable string) (*TableStore, error) {
	c, err := newTableClient(connStr, tasksTable)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: c}, nil
}

type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	tableKeys
	ETag            string                `json:"odata.etag,omitempty"`
	Description     string                `json:"Description"`
	Deadline        aztables.EDMDateTime  `json:"Deadline"`
	DeadlineType    string                `json:"Deadline@odata.type"`
	DeadlineZone    string                `json:"DeadlineZone,omitempty"`
	DeadlineOffset  int                   `json:"DeadlineOffset,omitempty"`
	Category        string                `json:"Category"`
	State           string                `json:"State"`
	Recurrence      string                `json:"Recurrence"`
	PredecessorID   string                `json:"PredecessorId"`
	AssigneeID      string                `json:"AssigneeId"`
	ReviewerID      string                `json:"ReviewerId"`
	ApproverID      string                `json:"ApproverId"`
	CreatedBy       string                `json:"CreatedBy"`
	CompletedAt     *aztables.EDMDateTime `json:"CompletedAt,omitempty"`
	CompletedAtType string                `json:"CompletedAt@odata.type,omitempty"`
	CreatedAt       aztables.EDMDateTime  `json:"CreatedAt"`
	CreatedAtType   string                `json:"CreatedAt@odata.type"`
	UpdatedAt       aztables.EDMDateTime  `json:"UpdatedAt"`
	UpdatedAtType   string                `json:"UpdatedAt@odata.type"`
}

func toEntity(t domain.ComplianceTask) taskEntity {
	zone, offset := deadlineZone(t.Deadline)
	ent := taskEntity{
		tableKeys:      tableKeys{PartitionKey: taskPartition, RowKey: t.ID},
		Description:    t.Description,
		Deadline:       aztables.EDMDateTime(t.Deadline.UTC()),
		DeadlineType:   edmDateTime,
		DeadlineZone:   zone,
		DeadlineOffset: offset,
		Category:       string(t.Category),
		State:          string(t.State),
		Recurrence:     string(t.Recurrence),
		PredecessorID:  t.PredecessorID,
		AssigneeID:     t.AssigneeID,
		ReviewerID:     t.ReviewerID,
		ApproverID:     t.ApproverID,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      aztables.EDMDateTime(t.CreatedAt.UTC()),
		CreatedAtType:  edmDateTime,
		UpdatedAt:      aztables.EDMDateTime(t.UpdatedAt.UTC()),
		UpdatedAtType:  edmDateTime,
	}
	if t.CompletedAt != nil {
		at := aztables.EDMDateTime(t.CompletedAt.UTC())
		ent.CompletedAt = &at
		ent.CompletedAtType = edmDateTime
	}
	return ent
}

func (e taskEntity) task() domain.ComplianceTask {
	t := domain.ComplianceTask{
		ID:            e.RowKey,
		Description:   e.Description,
		Deadline:      inZone(time.Time(e.Deadline), e.DeadlineZone, e.DeadlineOffset),
		Category:      domain.Category(e.Category),
		State:         domain.TaskState(e.State),
		Recurrence:    domain.Frequency(e.Recurrence),
		PredecessorID: e.PredecessorID,
		AssigneeID:    e.AssigneeID,
		ReviewerID:    e.ReviewerID,
		ApproverID:    e.ApproverID,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     time.Time(e.CreatedAt),
		UpdatedAt:     time.Time(e.UpdatedAt),
		Version:       e.ETag,
	}
	if e.CompletedAt != nil {
		at := time.Time(*e.CompletedAt)
		t.CompletedAt = &at
	}
	return t
}

func decodeTaskEntity(data []byte) (domain.ComplianceTask, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.ComplianceTask{}, fmt.Errorf("decode task entity: %w", err)
	}
	return ent.task(), nil
}

func (s *TableStore) GetTask(ctx context.Context, id string) (domain.ComplianceTask, error) {
	resp, err := s.table.GetEntity(ctx, taskPartition, id, nil)
	if err != nil {
		return domain.ComplianceTask{}, mapAzureError(err, id)
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	t.Version = string(resp.ETag)
	return t, nil
}

func (s *TableStore) CreateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	t.ID = uuid.NewString()
	payload, err := sonic.Marshal(toEntity(t))
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	resp, err := s.table.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.ComplianceTask{}, mapAzureError(err, t.ID)
	}
	t.Version = string(resp.ETag)
	return t, nil
}

func (s *TableStore) UpdateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	payload, err := sonic.Marshal(toEntity(t))
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	etag := azcore.ETag(t.Version)
	resp, err := s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return domain.ComplianceTask{}, mapAzureError(err, t.ID)
	}
	t.Version = string(resp.ETag)
	return t, nil
}

// SaveCompletion replaces the completed row (ETag checked) and adds the
// successor in one entity group transaction.
func (s *TableStore) SaveCompletion(ctx context.Context, done domain.ComplianceTask, successor *domain.ComplianceTask) (domain.ComplianceTask, *domain.ComplianceTask, error) {
	if successor == nil {
		saved, err := s.UpdateTask(ctx, done)
		return saved, nil, err
	}
	next := *successor
	next.ID = uuid.NewString()

	donePayload, err := sonic.Marshal(toEntity(done))
	if err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	nextPayload, err := sonic.Marshal(toEntity(next))
	if err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	etag := azcore.ETag(done.Version)
	actions := []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeUpdateReplace, Entity: donePayload, IfMatch: &etag},
		{ActionType: aztables.TransactionTypeAdd, Entity: nextPayload},
	}
	if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
		return domain.ComplianceTask{}, nil, mapAzureError(err, done.ID)
	}

	// The batch response carries no entity bodies; reload for fresh ETags.
	saved, err := s.GetTask(ctx, done.ID)
	if err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	spawned, err := s.GetTask(ctx, next.ID)
	if err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	return saved, &spawned, nil
}

func (s *TableStore) ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.ComplianceTask, error) {
	filter := buildTaskFilter(f)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.ComplianceTask{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			t, err := decodeTaskEntity(raw)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// buildTaskFilter renders the stored-field part of f as an OData filter.
func buildTaskFilter(f domain.TaskFilter) string {
	clauses := []string{"PartitionKey eq " + odataString(taskPartition)}
	if f.State != "" {
		clauses = append(clauses, "State eq "+odataString(string(f.State)))
	}
	if f.Category != "" {
		clauses = append(clauses, "Category eq "+odataString(string(f.Category)))
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "AssigneeId eq "+odataString(f.AssigneeID))
	}
	return strings.Join(clauses, " and ")
}

func odataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
