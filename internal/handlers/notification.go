package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type emailRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Subject   string `json:"subject" binding:"required"`
	Body      string `json:"body" binding:"required"`
}

type smsRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

type notificationQuery struct {
	Recipient string     `form:"recipient"`
	Status    string     `form:"status"`
	Channel   string     `form:"channel"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int        `form:"page"`
	PageSize  int        `form:"pageSize"`
}

type NotificationHandler struct {
	notifications *service.NotificationService
	log           *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: svc, log: log}
}

func (h *NotificationHandler) Register(r gin.IRouter) {
	g := r.Group("/api/notifications")
	g.GET("", h.ListNotifications)
	g.GET("/recipient/:recipient", h.ListByRecipient)
	g.GET("/:id", h.GetNotification)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.POST("/email", h.CreateEmail)
	g.POST("/sms", h.CreateSms)
}

func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var q notificationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	f := store.NotificationFilter{Recipient: q.Recipient, From: q.From, To: q.To, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		s, err := models.ParseNotificationStatus(q.Status)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		f.Status = s
	}
	if q.Channel != "" {
		ch, err := models.ParseChannel(q.Channel)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		f.Channel = ch
	}

	page, err := h.notifications.ListNotifications(c.Request.Context(), f)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", page)
}

func (h *NotificationHandler) ListByRecipient(c *gin.Context) {
	var q notificationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	page, err := h.notifications.ListByRecipient(c.Request.Context(), c.Param("recipient"), q.Page, q.PageSize)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", page)
}

func (h *NotificationHandler) GetNotification(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	n, err := h.notifications.GetNotification(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", n)
}

func (h *NotificationHandler) CreateEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.notifications.CreateEmail(c.Request.Context(), req.Recipient, req.Subject, req.Body)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, "Email notification queued", n)
}

func (h *NotificationHandler) CreateSms(c *gin.Context) {
	var req smsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.notifications.CreateSms(c.Request.Context(), req.PhoneNumber, req.Text)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, "Sms notification queued", n)
}

func (h *NotificationHandler) UpdateStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := models.ParseNotificationStatus(req.Status)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	n, err := h.notifications.UpdateStatus(c.Request.Context(), id, status, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Notification status updated", n)
}
