package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

// DeadLetterQueue is the operator surface of an outbox; *outbox.Dispatcher
// satisfies it.
type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

type OutboxHandler struct {
	outbox DeadLetterQueue
	log    *zap.Logger
}

func NewOutboxHandler(outbox DeadLetterQueue, log *zap.Logger) *OutboxHandler {
	return &OutboxHandler{outbox: outbox, log: log}
}

func (h *OutboxHandler) Register(r gin.IRouter) {
	r.GET("/api/outbox/dead-letters", h.DeadLetters)
	r.POST("/api/outbox/:id/requeue", h.Requeue)
}

// DeadLetters lists rows that used up their retries
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit <= 0 || q.Limit > models.MaxPageSize {
		q.Limit = models.MaxPageSize
	}
	rows, err := h.outbox.DeadLetters(c.Request.Context(), q.Limit)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if rows == nil {
		rows = []models.OutboxEvent{}
	}
	respond(c, http.StatusOK, "", rows)
}

func (h *OutboxHandler) Requeue(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.outbox.Requeue(c.Request.Context(), id); err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Outbox event requeued", nil)
}
