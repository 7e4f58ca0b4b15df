package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dinakaran-p/vccrm/domain"
)

var (
	errForbidden      = errors.New("role is not allowed to perform this action")
	errDuplicateKey   = errors.New("duplicate idempotency key")
	errInvalidBody    = errors.New("invalid body")
	errAuditDisabled  = errors.New("activity log is not configured")
	errImportDisabled = errors.New("import is not configured")
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, errDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errAuditDisabled), errors.Is(err, errImportDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// writeError renders err and records it on the request metrics. Internal
// errors are logged and their text is not exposed.
func (h *handler) writeError(c echo.Context, stage string, err error) error {
	metricsFrom(c).Fail(stage, err)
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("route", c.Path()).Error("request failed")
		body.Error = http.StatusText(status)
	}
	return c.JSON(status, body)
}
