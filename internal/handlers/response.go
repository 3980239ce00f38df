// Package handlers exposes the services over HTTP with gin. Every response
// uses the same result envelope.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

type ErrorResult struct {
	Errors []string `json:"errors"`
}

// Result is the body of every API response.
type Result struct {
	Message      string       `json:"message"`
	IsSuccessful bool         `json:"isSuccessful"`
	Error        *ErrorResult `json:"error,omitempty"`
	StatusCode   int          `json:"statusCode"`
	TraceID      string       `json:"traceId,omitempty"`
	Data         any          `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Result{Message: message, IsSuccessful: true, StatusCode: status, TraceID: traceID(c), Data: data})
}

// NewErrorResult builds a failed result; the first message doubles as the
// summary.
func NewErrorResult(status int, traceID string, messages ...string) Result {
	res := Result{
		IsSuccessful: false,
		Error:        &ErrorResult{Errors: messages},
		StatusCode:   status,
		TraceID:      traceID,
	}
	if len(messages) > 0 {
		res.Message = messages[0]
	}
	return res
}

// RespondError aborts the request with an error result.
func RespondError(c *gin.Context, status int, messages ...string) {
	c.AbortWithStatusJSON(status, NewErrorResult(status, traceID(c), messages...))
}

// StatusFor maps an error kind onto its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrReservationReleased):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as an error result. Internal errors are logged and their
// detail hidden from the caller.
func fail(c *gin.Context, log *zap.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("❌ Request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", traceID(c)),
			zap.Error(err))
		RespondError(c, status, "internal server error")
		return
	}
	RespondError(c, status, err.Error())
}

func badRequest(c *gin.Context, err error) {
	RespondError(c, http.StatusBadRequest, err.Error())
}

func traceID(c *gin.Context) string {
	if id := RequestTraceID(c.Request); id != "" {
		return id
	}
	return c.GetString(requestIDKey)
}

// RequestTraceID returns the trace id of the request's span, or its
// X-Request-ID header when no span is recording.
func RequestTraceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return r.Header.Get(requestIDHeader)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
