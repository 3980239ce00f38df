package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type createStockRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type reservationRequest struct {
	OrderID   uuid.UUID `json:"orderId" binding:"required"`
	ProductID string    `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity"`
}

type stockQuery struct {
	AvailableOnly bool `form:"availableOnly"`
	MinAvailable  int  `form:"minAvailable"`
	Page          int  `form:"page"`
	PageSize      int  `form:"pageSize"`
}

type StockHandler struct {
	stock *service.StockService
	log   *zap.Logger
}

func NewStockHandler(stock *service.StockService, log *zap.Logger) *StockHandler {
	return &StockHandler{stock: stock, log: log}
}

func (h *StockHandler) Register(r gin.IRouter) {
	g := r.Group("/api/stocks")
	g.GET("", h.ListStocks)
	g.POST("", h.CreateStock)
	g.GET("/available", h.ListAvailable)
	g.GET("/check-availability", h.CheckAvailability)
	g.GET("/available-quantity/:productId", h.AvailableQuantity)
	g.GET("/product/:productId", h.GetStockByProduct)
	g.GET("/:id", h.GetStock)
	g.PUT("/:id/quantity", h.UpdateQuantity)
	g.PATCH("/:id/add-quantity", h.AddQuantity)
	g.POST("/reserve", h.ReserveStock)
	g.POST("/release-reservation", h.ReleaseReservation)
	g.POST("/confirm-reservation", h.ConfirmReservation)
}

func (h *StockHandler) ListStocks(c *gin.Context) {
	var q stockQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	h.list(c, q)
}

// ListAvailable returns only stocks with something left to reserve
func (h *StockHandler) ListAvailable(c *gin.Context) {
	var q stockQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.AvailableOnly = true
	h.list(c, q)
}

func (h *StockHandler) list(c *gin.Context, q stockQuery) {
	page, err := h.stock.ListStocks(c.Request.Context(), store.StockFilter{
		AvailableOnly: q.AvailableOnly,
		MinAvailable:  q.MinAvailable,
		Page:          q.Page,
		PageSize:      q.PageSize,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", page)
}

func (h *StockHandler) GetStock(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	st, err := h.stock.GetStock(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", st)
}

func (h *StockHandler) GetStockByProduct(c *gin.Context) {
	st, err := h.stock.GetStockByProduct(c.Request.Context(), c.Param("productId"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", st)
}

func (h *StockHandler) CreateStock(c *gin.Context) {
	var req createStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.stock.CreateStock(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.Header("Location", "/api/stocks/"+st.ID.String())
	respond(c, http.StatusCreated, "Stock created", st)
}

func (h *StockHandler) UpdateQuantity(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.stock.UpdateQuantity(c.Request.Context(), id, req.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Stock quantity updated", st)
}

func (h *StockHandler) AddQuantity(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.stock.AddQuantity(c.Request.Context(), id, req.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Stock quantity added", st)
}

func (h *StockHandler) CheckAvailability(c *gin.Context) {
	var q struct {
		ProductID string `form:"productId" binding:"required"`
		Quantity  int    `form:"quantity" binding:"required"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	available, err := h.stock.CheckAvailability(c.Request.Context(), q.ProductID, q.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", gin.H{"productId": q.ProductID, "quantity": q.Quantity, "isAvailable": available})
}

func (h *StockHandler) AvailableQuantity(c *gin.Context) {
	pid := c.Param("productId")
	n, err := h.stock.AvailableQuantity(c.Request.Context(), pid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "", gin.H{"productId": pid, "availableQuantity": n})
}

// ReserveStock holds stock for an order outside the saga, e.g. for manual repair
func (h *StockHandler) ReserveStock(c *gin.Context) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.stock.ReserveStock(c.Request.Context(), req.OrderID, req.ProductID, req.Quantity)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Stock reserved", res)
}

func (h *StockHandler) ReleaseReservation(c *gin.Context) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.stock.ReleaseReservation(c.Request.Context(), req.OrderID, req.ProductID); err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Reservation released", nil)
}

func (h *StockHandler) ConfirmReservation(c *gin.Context) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.stock.ConfirmReservation(c.Request.Context(), req.OrderID, req.ProductID); err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, "Reservation confirmed", nil)
}
