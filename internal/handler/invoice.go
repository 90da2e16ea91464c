package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	svc *service.InvoiceService
	log *zap.Logger
}

func NewInvoiceHandler(svc *service.InvoiceService, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, log: log}
}

func (h *InvoiceHandler) List(c *gin.Context) {
	limit, offset := page(c)
	items, total, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type invoiceStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=generated sent paid"`
}

func (h *InvoiceHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req invoiceStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	inv, err := h.svc.UpdateStatus(c.Request.Context(), id, model.InvoiceStatus(req.Status), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
