package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dinakaran-p/vccrm/domain"
)

type fakeCreator struct {
	created    []domain.NewTaskInput
	existing   map[string]bool
	activities []domain.Activity
}

func (f *fakeCreator) CreateTask(_ context.Context, actor domain.Actor, in domain.NewTaskInput) (domain.ComplianceTask, error) {
	if err := in.Validate(); err != nil {
		return domain.ComplianceTask{}, err
	}
	if in.PredecessorID != "" && !f.existing[in.PredecessorID] {
		return domain.ComplianceTask{}, domain.ErrNotFound
	}
	id := "task-" + string(rune('a'+len(f.created)))
	f.created = append(f.created, in)
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[id] = true
	return domain.ComplianceTask{ID: id, CreatedBy: actor.ID}, nil
}

func (f *fakeCreator) Record(_ context.Context, _ domain.Actor, a domain.Activity) {
	f.activities = append(f.activities, a)
}

var actor = domain.Actor{ID: "officer-1", Role: "Compliance Officer"}

func runImport(t *testing.T, f *fakeCreator, csv string) Report {
	t.Helper()
	logger, _ := test.NewNullLogger()
	report, err := New(f, time.UTC, logger).Import(context.Background(), actor, strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return report
}

func TestImportCreatesRowsInOrder(t *testing.T) {
	f := &fakeCreator{}
	report := runImport(t, f, "Key,Description,Deadline,Category,Frequency,Assignee,Reviewer,Approver,Predecessor\n"+
		"q1,SEBI quarterly report,31/03/2024,SEBI,Quarterly,u1,u2,u3,\n"+
		"q2,Follow-up filing,2024-04-15T10:00:00Z,sebi,,u1,,,q1\n")

	if len(report.Created) != 2 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	first := f.created[0]
	if first.Recurrence != domain.FrequencyQuarterly || first.ReviewerID != "u2" || first.ApproverID != "u3" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if !first.Deadline.Equal(time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected deadline: %v", first.Deadline)
	}
	if f.created[1].PredecessorID != report.Created[0] {
		t.Fatalf("predecessor key should resolve to %s, got %q", report.Created[0], f.created[1].PredecessorID)
	}
	if len(f.activities) != 1 || f.activities[0].Type != domain.ActivityTasksImported {
		t.Fatalf("expected a single import activity, got %+v", f.activities)
	}
}

func TestImportReportsFailedRowsAndDependents(t *testing.T) {
	f := &fakeCreator{existing: map[string]bool{"existing-1": true}}
	report := runImport(t, f, "Key,Description,Deadline,Category,Frequency,Assignee,Predecessor\n"+
		"a,Bad category,2024-05-01,FEMA,,u1,\n"+
		"b,Depends on a,2024-05-02,RBI,,u1,a\n"+
		"c,Depends on stored task,2024-05-03,RBI,,u1,existing-1\n"+
		",,,,,,\n"+
		"d,No assignee,2024-05-04,RBI,,,\n"+
		"c,Duplicate key,2024-05-05,RBI,,u1,\n")

	if len(report.Created) != 1 {
		t.Fatalf("expected one created task, got %+v", report)
	}
	if f.created[0].PredecessorID != "existing-1" {
		t.Fatalf("stored predecessor id should pass through, got %q", f.created[0].PredecessorID)
	}
	want := []RowError{
		{Row: 1, Key: "a", Field: "category"},
		{Row: 2, Key: "b", Field: "predecessor"},
		{Row: 5, Key: "d", Field: "assigneeId"},
		{Row: 6, Key: "c", Field: "key"},
	}
	if len(report.Errors) != len(want) {
		t.Fatalf("unexpected errors: %+v", report.Errors)
	}
	for i, w := range want {
		got := report.Errors[i]
		if got.Row != w.Row || got.Key != w.Key || got.Field != w.Field || got.Error == "" {
			t.Fatalf("error %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestImportRejectsBadHeader(t *testing.T) {
	logger, _ := test.NewNullLogger()
	im := New(&fakeCreator{}, nil, logger)
	for name, input := range map[string]string{
		"empty":           "",
		"missing columns": "Key,Description\nx,y\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := im.Import(context.Background(), actor, strings.NewReader(input))
			if !errors.Is(err, ErrBadHeader) {
				t.Fatalf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestImportAcceptsBOMAndReorderedColumns(t *testing.T) {
	f := &fakeCreator{}
	report := runImport(t, f, "\ufeffassignee,category,deadline,description\nu7,IT/GST,2024-07-31,Advance tax\n")
	if len(report.Created) != 1 || f.created[0].AssigneeID != "u7" || f.created[0].Category != domain.CategoryITGST {
		t.Fatalf("unexpected import: %+v %+v", report, f.created)
	}
}
