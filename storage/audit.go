package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/dinakaran-p/vccrm/domain"
)

// AuditLog is the durable activity trail, partitioned by task.
type AuditLog struct {
	table *aztables.Client
}

// NewAuditLog creates an AuditLog for the given table.
func NewAuditLog(connStr, auditTable string) (*AuditLog, error) {
	c, err := newTableClient(connStr, auditTable)
	if err != nil {
		return nil, err
	}
	return &AuditLog{table: c}, nil
}

type activityEntity struct {
	tableKeys
	ActivityID string               `json:"ActivityId"`
	Type       string               `json:"Type"`
	ActorID    string               `json:"ActorId"`
	ActorRole  string               `json:"ActorRole"`
	Details    string               `json:"Details"`
	Time       aztables.EDMDateTime `json:"Time"`
	TimeType   string               `json:"Time@odata.type"`
}

// systemPartition holds activities that are not tied to one task, such as imports.
const systemPartition = "_system"

func activityRowKey(a domain.Activity) string {
	return fmt.Sprintf("%019d-%s", a.Time.UTC().UnixNano(), a.ID)
}

func toActivityEntity(a domain.Activity) activityEntity {
	pk := a.TaskID
	if pk == "" {
		pk = systemPartition
	}
	return activityEntity{
		tableKeys:  tableKeys{PartitionKey: pk, RowKey: activityRowKey(a)},
		ActivityID: a.ID,
		Type:       a.Type,
		ActorID:    a.ActorID,
		ActorRole:  a.ActorRole,
		Details:    a.Details,
		Time:       aztables.EDMDateTime(a.Time.UTC()),
		TimeType:   edmDateTime,
	}
}

func (e activityEntity) activity() domain.Activity {
	taskID := e.PartitionKey
	if taskID == systemPartition {
		taskID = ""
	}
	return domain.Activity{
		ID:        e.ActivityID,
		Type:      e.Type,
		TaskID:    taskID,
		ActorID:   e.ActorID,
		ActorRole: e.ActorRole,
		Details:   e.Details,
		Time:      time.Time(e.Time),
	}
}

// Append writes the activity. Redelivered messages map to the same row, so
// the write is an upsert.
func (l *AuditLog) Append(ctx context.Context, a domain.Activity) error {
	payload, err := sonic.Marshal(toActivityEntity(a))
	if err != nil {
		return err
	}
	_, err = l.table.UpsertEntity(ctx, payload, nil)
	return err
}

// ListByTask returns the activity trail of a task, oldest first.
func (l *AuditLog) ListByTask(ctx context.Context, taskID string) ([]domain.Activity, error) {
	filter := "PartitionKey eq " + odataString(taskID)
	pager := l.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Activity{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent activityEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("decode activity entity: %w", err)
			}
			out = append(out, ent.activity())
		}
	}
	return out, nil
}
