package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type orderLineRequest struct {
	ProductID   string          `json:"productId" binding:"required"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

func (r orderLineRequest) input() service.OrderLineInput {
	return service.OrderLineInput{
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		UnitPrice:   r.UnitPrice,
		Quantity:    r.Quantity,
	}
}

type createOrderRequest struct {
	CustomerID    string             `json:"customerId" binding:"required"`
	CustomerEmail string             `json:"customerEmail" binding:"required"`
	Currency      string             `json:"currency"`
	Notes         string             `json:"notes"`
	Draft         bool               `json:"draft"`
	Lines         []orderLineRequest `json:"orderLines"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type orderQuery struct {
	CustomerID string `form:"customerId"`
	Status     string `form:"status"`
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
}

type OrderHandler struct {
	orders *service.OrderService
	log    *zap.Logger
}

func NewOrderHandler(orders *service.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log}
}

func (h *OrderHandler) Register(r gin.IRouter) {
	g := r.Group("/api/orders")
	g.GET("", h.ListOrders)
	g.POST("", h.CreateOrder)
	g.GET("/customer/:customerId", h.ListByCustomer)
	g.GET("/status/:status", h.ListByStatus)
	g.GET("/:id", h.GetOrder)
	g.PATCH("/:id/status", h.UpdateOrderStatus)
	g.POST("/:id/lines", h.AddOrderLine)
	g.PUT("/:id/lines/:productId", h.UpdateOrderLineQuantity)
	g.DELETE("/:id/lines/:productId", h.RemoveOrderLine)
	g.POST("/:id/request-stock-reservation", h.command(h.orders.RequestStockReservation, "Stock reservation requested"))
	g.POST("/:id/confirm-stock-reservation", h.command(h.orders.ConfirmStockReservation, "Stock reservation confirmed"))
	g.POST("/:id/fail-stock-reservation", h.FailStockReservation)
	g.POST("/:id/confirm", h.command(h.orders.ConfirmOrder, "Order confirmed"))
	g.POST("/:id/cancel", h.CancelOrder)
	g.POST("/:id/ship", h.command(h.orders.MarkAsShipped, "Order shipped"))
	g.POST("/:id/deliver", h.command(h.orders.MarkAsDelivered, "Order delivered"))
}

// ListOrders returns a page of orders, optionally filtered
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q orderQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	h.list(c, q)
}

func (h *OrderHandler) ListByCustomer(c *gin.Context) {
	var q orderQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.CustomerID = c.Param("customerId")
	h.list(c, q)
}

func (h *OrderHandler) ListByStatus(c *gin.Context) {
	var q orderQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.Status = c.Param("status")
	h.list(c, q)
}

func (h *OrderHandler) list(c *gin.Context, q orderQuery) {
	f := store.OrderFilter{CustomerID: q.CustomerID, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status, err := models.ParseOrderStatus(q.Status)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		f.Status = status
	}
	page, err := h.orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", page)
}

// GetOrder returns a single order with its lines
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", order)
}

// CreateOrder creates a new order and starts its saga unless it is a draft
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	in := service.CreateOrderInput{
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Currency:      req.Currency,
		Notes:         req.Notes,
		Draft:         req.Draft,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, l.input())
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.Header("Location", "/api/orders/"+order.ID.String())
	respond(c, http.StatusCreated, "Order created", order)
}

func (h *OrderHandler) AddOrderLine(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req orderLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.orders.AddOrderLine(c.Request.Context(), id, req.input())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Order line added", order)
}

func (h *OrderHandler) UpdateOrderLineQuantity(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.orders.UpdateOrderLineQuantity(c.Request.Context(), id, c.Param("productId"), req.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Order line updated", order)
}

func (h *OrderHandler) RemoveOrderLine(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.RemoveOrderLine(c.Request.Context(), id, c.Param("productId"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Order line removed", order)
}

func (h *OrderHandler) FailStockReservation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.orders.FailStockReservation(c.Request.Context(), id, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Stock reservation failed", order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	order, err := h.orders.CancelOrder(c.Request.Context(), id, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Order cancelled", order)
}

// UpdateOrderStatus moves the order to the requested status
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
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

	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), id, status, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Order status updated", order)
}

// command adapts a service transition that needs only the order id.
func (h *OrderHandler) command(fn func(ctx context.Context, id uuid.UUID) (*models.Order, error), message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		order, err := fn(c.Request.Context(), id)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		respond(c, http.StatusOK, message, order)
	}
}
