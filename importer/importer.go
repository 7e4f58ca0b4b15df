// Package importer creates compliance tasks in bulk from CSV files.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/domain"
)

// Columns in the order the template uses. Headers are matched by name, so
// files may reorder them.
var Columns = []string{"Key", "Description", "Deadline", "Category", "Frequency", "Assignee", "Reviewer", "Approver", "Predecessor"}

var required = []string{"Description", "Deadline", "Category", "Assignee"}

// ErrBadHeader is returned when the header row lacks a required column.
var ErrBadHeader = errors.New("csv header is missing required columns")

// TaskCreator is the part of the engine the importer uses.
type TaskCreator interface {
	CreateTask(ctx context.Context, actor domain.Actor, in domain.NewTaskInput) (domain.ComplianceTask, error)
	Record(ctx context.Context, actor domain.Actor, a domain.Activity)
}

// RowError describes a row that was not imported. Row counts data rows from 1.
type RowError struct {
	Row   int    `json:"row"`
	Key   string `json:"key,omitempty"`
	Field string `json:"field,omitempty"`
	Error string `json:"error"`
}

// Report summarises an import.
type Report struct {
	Created []string   `json:"created"`
	Errors  []RowError `json:"errors"`
}

// Importer reads task rows and creates them one by one, in file order.
type Importer struct {
	tasks TaskCreator
	loc   *time.Location
	log   *log.Logger
}

// New creates an importer. Dates without an offset are read in loc.
func New(tasks TaskCreator, loc *time.Location, logger *log.Logger) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Importer{tasks: tasks, loc: loc, log: logger}
}

// Import creates a task for every valid row. A failing row is reported and
// skipped; rows naming it as predecessor fail too. Only unreadable input or a
// bad header fails the whole import.
func (im *Importer) Import(ctx context.Context, actor domain.Actor, r io.Reader) (Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Report{}, fmt.Errorf("%w: empty file", ErrBadHeader)
	}
	if err != nil {
		return Report{}, fmt.Errorf("read csv header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return Report{}, err
	}

	report := Report{Created: []string{}, Errors: []RowError{}}
	keys := make(map[string]string)
	failed := make(map[string]bool)
	for rowNum := 1; ; rowNum++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read csv row %d: %w", rowNum, err)
		}
		row := rowValues(record, index)
		if row.blank() {
			continue
		}

		id, rowErr := im.importRow(ctx, actor, row, keys, failed)
		if rowErr != nil {
			re := RowError{Row: rowNum, Key: row.get("Key"), Error: rowErr.Error()}
			var verr *domain.ValidationError
			if errors.As(rowErr, &verr) {
				re.Field = verr.Field
			}
			report.Errors = append(report.Errors, re)
			if key := row.get("Key"); key != "" && keys[key] == "" {
				failed[key] = true
			}
			continue
		}
		report.Created = append(report.Created, id)
		if key := row.get("Key"); key != "" {
			keys[key] = id
		}
	}

	im.log.WithFields(log.Fields{
		"created": len(report.Created),
		"failed":  len(report.Errors),
		"actor":   actor.ID,
	}).Info("task import finished")
	im.tasks.Record(ctx, actor, domain.Activity{
		Type:    domain.ActivityTasksImported,
		Details: fmt.Sprintf("Imported %d tasks (%d rows failed)", len(report.Created), len(report.Errors)),
	})
	return report, nil
}

func (im *Importer) importRow(ctx context.Context, actor domain.Actor, row csvRow, keys map[string]string, failed map[string]bool) (string, error) {
	if key := row.get("Key"); key != "" {
		if _, dup := keys[key]; dup || failed[key] {
			return "", &domain.ValidationError{Field: "key", Reason: "duplicate key " + key}
		}
	}

	deadline, err := domain.ParseDeadline(row.get("Deadline"), im.loc)
	if err != nil {
		return "", err
	}
	category, err := domain.ParseCategory(row.get("Category"))
	if err != nil {
		return "", err
	}
	frequency, err := domain.ParseFrequency(row.get("Frequency"))
	if err != nil {
		return "", err
	}

	predecessor := row.get("Predecessor")
	if predecessor != "" {
		switch {
		case failed[predecessor]:
			return "", &domain.ValidationError{Field: "predecessor", Reason: "row " + predecessor + " was not imported"}
		case keys[predecessor] != "":
			predecessor = keys[predecessor]
		}
	}

	task, err := im.tasks.CreateTask(ctx, actor, domain.NewTaskInput{
		Description:   row.get("Description"),
		Deadline:      deadline,
		Category:      category,
		AssigneeID:    row.get("Assignee"),
		ReviewerID:    row.get("Reviewer"),
		ApproverID:    row.get("Approver"),
		Recurrence:    frequency,
		PredecessorID: predecessor,
	})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		for _, col := range Columns {
			if strings.EqualFold(name, col) {
				index[col] = i
			}
		}
	}
	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadHeader, strings.Join(missing, ", "))
	}
	return index, nil
}

type csvRow map[string]string

func rowValues(record []string, index map[string]int) csvRow {
	row := make(csvRow, len(index))
	for col, i := range index {
		if i < len(record) {
			row[col] = strings.TrimSpace(record[i])
		}
	}
	return row
}

func (r csvRow) get(col string) string { return r[col] }

func (r csvRow) blank() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}
