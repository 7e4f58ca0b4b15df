package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/domain"
	"github.com/dinakaran-p/vccrm/importer"
)

const (
	maxBodySize          = 64 << 10
	maxImportSize        = 8 << 20
	headerIdempotencyKey = "Idempotency-Key"
	principalContextKey  = "auth.principal"
)

// Importer bulk-creates tasks from a CSV stream.
type Importer interface {
	Import(ctx context.Context, actor domain.Actor, r io.Reader) (importer.Report, error)
}

// Options carries the collaborators of the HTTP API. Deduper, Audit,
// Importer and Broker are optional.
type Options struct {
	Tasks    TaskService
	Auth     Authenticator
	Deduper  Deduper
	Audit    ActivityLister
	Importer Importer
	Broker   *Broker
	Clock    domain.Clock
	// Location is used for deadlines given without a UTC offset.
	Location *time.Location
	Logger   *log.Logger
}

type handler struct {
	tasks    TaskService
	dedupe   Deduper
	audit    ActivityLister
	importer Importer
	clock    domain.Clock
	loc      *time.Location
	log      *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, opts Options) {
	h := &handler{
		tasks:    opts.Tasks,
		dedupe:   opts.Deduper,
		audit:    opts.Audit,
		importer: opts.Importer,
		clock:    opts.Clock,
		loc:      opts.Location,
		log:      opts.Logger,
	}
	if h.clock == nil {
		h.clock = domain.SystemClock{}
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.log == nil {
		h.log = log.StandardLogger()
	}

	e.GET("/healthz", healthz)

	g := e.Group("/api", RequireAuth(opts.Auth))
	g.POST("/tasks", h.createTask)
	g.GET("/tasks", h.listTasks)
	g.POST("/tasks/import", h.importTasks)
	g.GET("/tasks/:id", h.getTask)
	g.PATCH("/tasks/:id", h.updateTask)
	g.POST("/tasks/:id/complete", h.completeTask)
	g.GET("/tasks/:id/activity", h.taskActivity)
	g.GET("/reports/tasks-stats", h.stats)
	if opts.Broker != nil {
		g.GET("/stream", opts.Broker.stream)
	}
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// RequireAuth resolves the caller and stores the principal on the context.
func RequireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			start := time.Now()
			p, err := auth.PrincipalFromAuthHeader(authHeader(c))
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.Fail("auth", err)
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			c.Set(principalContextKey, p)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) Principal {
	p, _ := c.Get(principalContextKey).(Principal)
	return p
}

func (p Principal) actor() domain.Actor {
	return domain.Actor{ID: p.UserID, Role: p.Role}
}

type taskResponse struct {
	domain.ComplianceTask
	EffectiveState domain.TaskState `json:"effectiveState"`
	Overdue        bool             `json:"overdue"`
}

type tasksResponse struct {
	Tasks []taskResponse `json:"tasks"`
}

type resultResponse struct {
	Task             taskResponse  `json:"task"`
	Successor        *taskResponse `json:"successor,omitempty"`
	AlreadyCompleted bool          `json:"alreadyCompleted"`
}

type activitiesResponse struct {
	Activities []domain.Activity `json:"activities"`
}

func (h *handler) present(t domain.ComplianceTask) taskResponse {
	now := h.clock.Now()
	return taskResponse{ComplianceTask: t, EffectiveState: t.EffectiveState(now), Overdue: t.IsOverdue(now)}
}

func (h *handler) presentResult(r domain.Result) resultResponse {
	resp := resultResponse{Task: h.present(r.Task), AlreadyCompleted: r.AlreadyCompleted}
	if r.Successor != nil {
		s := h.present(*r.Successor)
		resp.Successor = &s
	}
	return resp
}

type createTaskRequest struct {
	Description   string `json:"description"`
	Deadline      string `json:"deadline"`
	Category      string `json:"category"`
	AssigneeID    string `json:"assigneeId"`
	ReviewerID    string `json:"reviewerId"`
	ApproverID    string `json:"approverId"`
	Recurrence    string `json:"recurrence"`
	PredecessorID string `json:"predecessorId"`
}

func (r createTaskRequest) input(loc *time.Location) (domain.NewTaskInput, error) {
	deadline, err := domain.ParseDeadline(r.Deadline, loc)
	if err != nil {
		return domain.NewTaskInput{}, err
	}
	category, err := domain.ParseCategory(r.Category)
	if err != nil {
		return domain.NewTaskInput{}, err
	}
	recurrence, err := domain.ParseFrequency(r.Recurrence)
	if err != nil {
		return domain.NewTaskInput{}, err
	}
	return domain.NewTaskInput{
		Description:   strings.TrimSpace(r.Description),
		Deadline:      deadline,
		Category:      category,
		AssigneeID:    strings.TrimSpace(r.AssigneeID),
		ReviewerID:    strings.TrimSpace(r.ReviewerID),
		ApproverID:    strings.TrimSpace(r.ApproverID),
		Recurrence:    recurrence,
		PredecessorID: strings.TrimSpace(r.PredecessorID),
	}, nil
}

// patchRequest mirrors domain.TaskPatch; absent fields stay nil.
type patchRequest struct {
	State         *string `json:"state"`
	Description   *string `json:"description"`
	Deadline      *string `json:"deadline"`
	Category      *string `json:"category"`
	AssigneeID    *string `json:"assigneeId"`
	ReviewerID    *string `json:"reviewerId"`
	ApproverID    *string `json:"approverId"`
	Recurrence    *string `json:"recurrence"`
	PredecessorID *string `json:"predecessorId"`
}

func (r patchRequest) patch(loc *time.Location) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	if r.State != nil {
		s, err := domain.ParseTaskState(*r.State)
		if err != nil {
			return p, err
		}
		p.State = &s
	}
	if r.Deadline != nil {
		d, err := domain.ParseDeadline(*r.Deadline, loc)
		if err != nil {
			return p, err
		}
		p.Deadline = &d
	}
	if r.Category != nil {
		c, err := domain.ParseCategory(*r.Category)
		if err != nil {
			return p, err
		}
		p.Category = &c
	}
	if r.Recurrence != nil {
		f, err := domain.ParseFrequency(*r.Recurrence)
		if err != nil {
			return p, err
		}
		p.Recurrence = &f
	}
	p.Description = trimmed(r.Description)
	p.AssigneeID = trimmed(r.AssigneeID)
	p.ReviewerID = trimmed(r.ReviewerID)
	p.ApproverID = trimmed(r.ApproverID)
	p.PredecessorID = trimmed(r.PredecessorID)
	return p, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// decodeBody reads a size-limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func (h *handler) createTask(c echo.Context) error {
	p := principalFrom(c)
	if !isManager(p.Role) {
		return h.writeError(c, "authorize", errForbidden)
	}
	ctx := c.Request().Context()

	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return h.writeError(c, "decode", err)
	}
	in, err := req.input(h.loc)
	if err != nil {
		return h.writeError(c, "validate", err)
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	dedupe := key != "" && h.dedupe != nil
	if dedupe {
		added, err := h.dedupe.Add(ctx, p.UserID, key)
		if err != nil {
			return h.writeError(c, "idempotency", fmt.Errorf("record idempotency key: %w", err))
		}
		if !added {
			return h.writeError(c, "idempotency", errDuplicateKey)
		}
	}

	start := time.Now()
	task, err := h.tasks.CreateTask(ctx, p.actor(), in)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		if dedupe {
			if rerr := h.dedupe.Remove(ctx, p.UserID, key); rerr != nil {
				h.log.WithError(rerr).WithField("key", key).Warn("unable to release idempotency key")
			}
		}
		return h.writeError(c, "create", err)
	}
	return c.JSON(http.StatusCreated, h.present(task))
}

func (h *handler) listTasks(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.writeError(c, "validate", err)
	}
	start := time.Now()
	tasks, err := h.tasks.ListTasks(c.Request().Context(), f)
	m := metricsFrom(c)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "storage", err)
	}
	m.SetTasksReturned(len(tasks))
	resp := tasksResponse{Tasks: make([]taskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, h.present(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func filterFromQuery(c echo.Context) (domain.TaskFilter, error) {
	var f domain.TaskFilter
	if raw := c.QueryParam("state"); raw != "" {
		s, err := domain.ParseTaskState(raw)
		if err != nil {
			return f, err
		}
		// Overdue is never stored; asking for it means the derived view.
		if s == domain.StateOverdue {
			overdue := true
			f.Overdue = &overdue
		} else {
			f.State = s
		}
	}
	if raw := c.QueryParam("category"); raw != "" {
		cat, err := domain.ParseCategory(raw)
		if err != nil {
			return f, err
		}
		f.Category = cat
	}
	f.AssigneeID = strings.TrimSpace(c.QueryParam("assignee_id"))
	if raw := c.QueryParam("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return f, &domain.ValidationError{Field: "overdue", Reason: "must be true or false"}
		}
		f.Overdue = &overdue
	}
	return f, nil
}

func (h *handler) getTask(c echo.Context) error {
	start := time.Now()
	task, err := h.tasks.GetTask(c.Request().Context(), c.Param("id"))
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "storage", err)
	}
	return c.JSON(http.StatusOK, h.present(task))
}

func (h *handler) updateTask(c echo.Context) error {
	var req patchRequest
	if err := decodeBody(c, &req); err != nil {
		return h.writeError(c, "decode", err)
	}
	patch, err := req.patch(h.loc)
	if err != nil {
		return h.writeError(c, "validate", err)
	}
	start := time.Now()
	res, err := h.tasks.UpdateTask(c.Request().Context(), c.Param("id"), principalFrom(c).actor(), patch)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "update", err)
	}
	return c.JSON(http.StatusOK, h.presentResult(res))
}

func (h *handler) completeTask(c echo.Context) error {
	start := time.Now()
	res, err := h.tasks.CompleteTask(c.Request().Context(), c.Param("id"), principalFrom(c).actor())
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "complete", err)
	}
	return c.JSON(http.StatusOK, h.presentResult(res))
}

func (h *handler) taskActivity(c echo.Context) error {
	if h.audit == nil {
		return h.writeError(c, "audit", errAuditDisabled)
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.tasks.GetTask(ctx, id); err != nil {
		return h.writeError(c, "storage", err)
	}
	start := time.Now()
	activities, err := h.audit.ListByTask(ctx, id)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "audit", err)
	}
	if activities == nil {
		activities = []domain.Activity{}
	}
	return c.JSON(http.StatusOK, activitiesResponse{Activities: activities})
}

func (h *handler) stats(c echo.Context) error {
	start := time.Now()
	stats, err := h.tasks.Stats(c.Request().Context())
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return h.writeError(c, "storage", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// importTasks accepts either a multipart upload in the "file" field or a raw
// CSV body.
func (h *handler) importTasks(c echo.Context) error {
	p := principalFrom(c)
	if !isManager(p.Role) {
		return h.writeError(c, "authorize", errForbidden)
	}
	if h.importer == nil {
		return h.writeError(c, "import", errImportDisabled)
	}

	var body io.Reader = c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return h.writeError(c, "decode", fmt.Errorf("%w: missing file field", errInvalidBody))
		}
		f, err := fh.Open()
		if err != nil {
			return h.writeError(c, "decode", err)
		}
		defer f.Close()
		body = f
	}

	start := time.Now()
	report, err := h.importer.Import(c.Request().Context(), p.actor(), io.LimitReader(body, maxImportSize))
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		if isBadCSV(err) {
			err = fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return h.writeError(c, "import", err)
	}
	metricsFrom(c).SetTasksReturned(len(report.Created))
	return c.JSON(http.StatusOK, report)
}

func isBadCSV(err error) bool {
	var parseErr *csv.ParseError
	return errors.Is(err, importer.ErrBadHeader) || errors.As(err, &parseErr)
}
