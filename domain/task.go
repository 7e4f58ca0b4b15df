package domain

import (
	"strings"
	"time"
)

// TaskState is the stored lifecycle state of a compliance task.
type TaskState string

const (
	StateOpen           TaskState = "Open"
	StatePending        TaskState = "Pending"
	StateReviewRequired TaskState = "Review Required"
	StateCompleted      TaskState = "Completed"
	StateOverdue        TaskState = "Overdue"
)

var taskStates = []TaskState{StateOpen, StatePending, StateReviewRequired, StateCompleted, StateOverdue}

// Category is the regulatory category a task belongs to.
type Category string

const (
	CategorySEBI  Category = "SEBI"
	CategoryRBI   Category = "RBI"
	CategoryITGST Category = "IT/GST"
)

var categories = []Category{CategorySEBI, CategoryRBI, CategoryITGST}

// Frequency controls whether and when a completed task spawns a successor.
// The zero value means the task does not recur.
type Frequency string

const (
	FrequencyNone         Frequency = ""
	FrequencyOneTime      Frequency = "One Time"
	FrequencyDaily        Frequency = "Daily"
	FrequencyWeekly       Frequency = "Weekly"
	FrequencyMonthly      Frequency = "Monthly"
	FrequencyQuarterly    Frequency = "Quarterly"
	FrequencyYearly       Frequency = "Yearly"
	FrequencyWhenRequired Frequency = "When Required"
)

var frequencies = []Frequency{
	FrequencyOneTime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly,
	FrequencyQuarterly, FrequencyYearly, FrequencyWhenRequired,
}

// Recurs reports whether completing a task with this frequency produces a successor.
func (f Frequency) Recurs() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// ComplianceTask is a unit of regulatory work with a deadline and an owner.
type ComplianceTask struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Deadline      time.Time  `json:"deadline"`
	Category      Category   `json:"category"`
	State         TaskState  `json:"state"`
	Recurrence    Frequency  `json:"recurrence,omitempty"`
	PredecessorID string     `json:"predecessorId,omitempty"`
	AssigneeID    string     `json:"assigneeId"`
	ReviewerID    string     `json:"reviewerId,omitempty"`
	ApproverID    string     `json:"approverId,omitempty"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	// Version is the optimistic concurrency token of the backing store.
	Version string `json:"-"`
}

// IsOverdue reports whether the task missed its deadline at the given instant.
// A task explicitly set to Overdue counts as overdue regardless of deadline.
func (t ComplianceTask) IsOverdue(now time.Time) bool {
	if t.State == StateOverdue {
		return true
	}
	return t.State != StateCompleted && t.Deadline.Before(now)
}

// EffectiveState is the state shown to readers. Overdue is derived from the
// deadline rather than stored.
func (t ComplianceTask) EffectiveState(now time.Time) TaskState {
	if t.IsOverdue(now) {
		return StateOverdue
	}
	return t.State
}

// NewTaskInput carries the fields accepted when creating a task.
type NewTaskInput struct {
	Description   string
	Deadline      time.Time
	Category      Category
	AssigneeID    string
	ReviewerID    string
	ApproverID    string
	Recurrence    Frequency
	PredecessorID string
}

// Validate checks required fields and enumerations.
func (in NewTaskInput) Validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return &ValidationError{Field: "description", Reason: "is required"}
	}
	if in.Deadline.IsZero() {
		return &ValidationError{Field: "deadline", Reason: "is required"}
	}
	if !in.Category.valid() {
		return &ValidationError{Field: "category", Reason: "unknown category " + string(in.Category)}
	}
	if strings.TrimSpace(in.AssigneeID) == "" {
		return &ValidationError{Field: "assigneeId", Reason: "is required"}
	}
	if !in.Recurrence.valid() {
		return &ValidationError{Field: "recurrence", Reason: "unknown frequency " + string(in.Recurrence)}
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left untouched; empty strings
// clear optional references.
type TaskPatch struct {
	State         *TaskState
	Description   *string
	Deadline      *time.Time
	Category      *Category
	AssigneeID    *string
	ReviewerID    *string
	ApproverID    *string
	Recurrence    *Frequency
	PredecessorID *string
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.State == nil && p.Description == nil && p.Deadline == nil && p.Category == nil &&
		p.AssigneeID == nil && p.ReviewerID == nil && p.ApproverID == nil &&
		p.Recurrence == nil && p.PredecessorID == nil
}

// Validate checks the fields present in the patch.
func (p TaskPatch) Validate() error {
	if p.Empty() {
		return &ValidationError{Field: "patch", Reason: "has no fields"}
	}
	if p.State != nil && !p.State.valid() {
		return &ValidationError{Field: "state", Reason: "unknown state " + string(*p.State)}
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be blank"}
	}
	if p.Deadline != nil && p.Deadline.IsZero() {
		return &ValidationError{Field: "deadline", Reason: "must not be zero"}
	}
	if p.Category != nil && !p.Category.valid() {
		return &ValidationError{Field: "category", Reason: "unknown category " + string(*p.Category)}
	}
	if p.AssigneeID != nil && strings.TrimSpace(*p.AssigneeID) == "" {
		return &ValidationError{Field: "assigneeId", Reason: "must not be blank"}
	}
	if p.Recurrence != nil && !p.Recurrence.valid() {
		return &ValidationError{Field: "recurrence", Reason: "unknown frequency " + string(*p.Recurrence)}
	}
	return nil
}

func (p TaskPatch) fields() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(p.State != nil, "state")
	add(p.Description != nil, "description")
	add(p.Deadline != nil, "deadline")
	add(p.Category != nil, "category")
	add(p.AssigneeID != nil, "assigneeId")
	add(p.ReviewerID != nil, "reviewerId")
	add(p.ApproverID != nil, "approverId")
	add(p.Recurrence != nil, "recurrence")
	add(p.PredecessorID != nil, "predecessorId")
	return names
}

// apply copies the patch onto t. State handling is left to the engine.
func (p TaskPatch) apply(t *ComplianceTask) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Deadline != nil {
		t.Deadline = *p.Deadline
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ReviewerID != nil {
		t.ReviewerID = *p.ReviewerID
	}
	if p.ApproverID != nil {
		t.ApproverID = *p.ApproverID
	}
	if p.Recurrence != nil {
		t.Recurrence = *p.Recurrence
	}
	if p.PredecessorID != nil {
		t.PredecessorID = *p.PredecessorID
	}
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	State      TaskState
	Category   Category
	AssigneeID string
	// Overdue filters on the derived overdue view; stores ignore it.
	Overdue *bool
}

// Matches reports whether t passes the stored-field part of the filter.
func (f TaskFilter) Matches(t ComplianceTask) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	return true
}

// TaskStats summarises the task table.
type TaskStats struct {
	Total     int `json:"totalTasks"`
	Completed int `json:"completedTasks"`
	Overdue   int `json:"overdueTasks"`
}

func (s TaskState) valid() bool {
	for _, v := range taskStates {
		if s == v {
			return true
		}
	}
	return false
}

func (c Category) valid() bool {
	for _, v := range categories {
		if c == v {
			return true
		}
	}
	return false
}

func (f Frequency) valid() bool {
	if f == FrequencyNone {
		return true
	}
	for _, v := range frequencies {
		if f == v {
			return true
		}
	}
	return false
}

// ParseTaskState accepts the canonical names and loose spellings such as
// "review_required".
func ParseTaskState(raw string) (TaskState, error) {
	key := normalize(raw)
	for _, s := range taskStates {
		if normalize(string(s)) == key {
			return s, nil
		}
	}
	return "", &ValidationError{Field: "state", Reason: "unknown state " + raw}
}

// ParseCategory accepts "SEBI", "RBI" and "IT/GST" in any case; "it-gst" and
// "it_gst" are accepted as well.
func ParseCategory(raw string) (Category, error) {
	key := normalize(raw)
	for _, c := range categories {
		if normalize(string(c)) == key {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "category", Reason: "unknown category " + raw}
}

// ParseFrequency maps a frequency label to a Frequency. Blank and "none" mean
// no recurrence.
func ParseFrequency(raw string) (Frequency, error) {
	key := normalize(raw)
	if key == "" || key == "none" {
		return FrequencyNone, nil
	}
	for _, f := range frequencies {
		if normalize(string(f)) == key {
			return f, nil
		}
	}
	return "", &ValidationError{Field: "recurrence", Reason: "unknown frequency " + raw}
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
