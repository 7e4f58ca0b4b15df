package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestParseTaskState(t *testing.T) {
	tests := map[string]TaskState{
		"Open":            StateOpen,
		"pending":         StatePending,
		"Review Required": StateReviewRequired,
		"review_required": StateReviewRequired,
		"REVIEW-REQUIRED": StateReviewRequired,
		"completed":       StateCompleted,
		"Overdue":         StateOverdue,
	}
	for raw, want := range tests {
		got, err := ParseTaskState(raw)
		if err != nil {
			t.Fatalf("ParseTaskState(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseTaskState(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseTaskState("done"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	for raw, want := range map[string]Category{"SEBI": CategorySEBI, "rbi": CategoryRBI, "IT/GST": CategoryITGST, "it_gst": CategoryITGST} {
		got, err := ParseCategory(raw)
		if err != nil || got != want {
			t.Fatalf("ParseCategory(%q) = %q, %v", raw, got, err)
		}
	}
	var vErr *ValidationError
	if _, err := ParseCategory("FEMA"); !errors.As(err, &vErr) || vErr.Field != "category" {
		t.Fatalf("expected category validation error, got %v", err)
	}
}

func TestParseFrequency(t *testing.T) {
	for raw, want := range map[string]Frequency{
		"":              FrequencyNone,
		"none":          FrequencyNone,
		"One Time":      FrequencyOneTime,
		"one-time":      FrequencyOneTime,
		"monthly":       FrequencyMonthly,
		"When Required": FrequencyWhenRequired,
		"QUARTERLY":     FrequencyQuarterly,
	} {
		got, err := ParseFrequency(raw)
		if err != nil || got != want {
			t.Fatalf("ParseFrequency(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFrequency("biweekly"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewTaskInputValidate(t *testing.T) {
	valid := NewTaskInput{
		Description: "File quarterly SEBI report",
		Deadline:    time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
		Category:    CategorySEBI,
		AssigneeID:  "user-1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	tests := []struct {
		name  string
		mut   func(*NewTaskInput)
		field string
	}{
		{"blank description", func(in *NewTaskInput) { in.Description = "  " }, "description"},
		{"zero deadline", func(in *NewTaskInput) { in.Deadline = time.Time{} }, "deadline"},
		{"bad category", func(in *NewTaskInput) { in.Category = "FEMA" }, "category"},
		{"missing assignee", func(in *NewTaskInput) { in.AssigneeID = "" }, "assigneeId"},
		{"bad recurrence", func(in *NewTaskInput) { in.Recurrence = "Hourly" }, "recurrence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mut(&in)
			var vErr *ValidationError
			if err := in.Validate(); !errors.As(err, &vErr) || vErr.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestTaskPatchValidate(t *testing.T) {
	if err := (TaskPatch{}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty patch to be rejected, got %v", err)
	}
	bad := TaskState("Archived")
	if err := (TaskPatch{State: &bad}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown state to be rejected, got %v", err)
	}
	ok := StatePending
	if err := (TaskPatch{State: &ok}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveState(t *testing.T) {
	now := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	past := ComplianceTask{State: StatePending, Deadline: now.Add(-time.Hour)}
	future := ComplianceTask{State: StatePending, Deadline: now.Add(time.Hour)}
	done := ComplianceTask{State: StateCompleted, Deadline: now.Add(-time.Hour)}

	if got := past.EffectiveState(now); got != StateOverdue {
		t.Fatalf("expected overdue, got %s", got)
	}
	if got := future.EffectiveState(now); got != StatePending {
		t.Fatalf("expected pending, got %s", got)
	}
	if got := done.EffectiveState(now); got != StateCompleted {
		t.Fatalf("expected completed tasks never to be overdue, got %s", got)
	}
}

func TestTaskMarshalOmitsVersion(t *testing.T) {
	task := ComplianceTask{ID: "t1", Description: "d", State: StateOpen, Version: "W/\"etag\""}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	var raw map[string]any
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["Version"]; ok {
		t.Fatalf("expected version to stay internal, got %s", payload)
	}
	if raw["state"] != "Open" {
		t.Fatalf("expected state to be serialised, got %s", payload)
	}
}

func TestParseDeadline(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-31T17:30:00Z", time.Date(2024, time.March, 31, 17, 30, 0, 0, time.UTC)},
		{"2024-03-31", time.Date(2024, time.March, 31, 0, 0, 0, 0, ist)},
		{"31/03/2024", time.Date(2024, time.March, 31, 0, 0, 0, 0, ist)},
		{" 05/01/2024 ", time.Date(2024, time.January, 5, 0, 0, 0, 0, ist)},
	}
	for _, tt := range tests {
		got, err := ParseDeadline(tt.raw, ist)
		if err != nil {
			t.Fatalf("ParseDeadline(%q): %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseDeadline(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
	for _, raw := range []string{"", "03/31/2024", "tomorrow"} {
		var vErr *ValidationError
		if _, err := ParseDeadline(raw, ist); !errors.As(err, &vErr) || vErr.Field != "deadline" {
			t.Fatalf("expected deadline validation error for %q, got %v", raw, err)
		}
	}
}
