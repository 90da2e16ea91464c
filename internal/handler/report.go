package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReportHandler struct {
	svc *service.ReportService
	log *zap.Logger
}

func NewReportHandler(svc *service.ReportService, log *zap.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, log: log}
}

func (h *ReportHandler) List(c *gin.Context) {
	limit, offset := page(c)
	items, total, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *ReportHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	r, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type validateRequest struct {
	LineItems      []lineItemRequest `json:"line_items" binding:"omitempty,dive"`
	DiscountAmount *decimal.Decimal  `json:"discount_amount"`
	Notes          string            `json:"notes"`
}

// Validate — валидация секретарём; со строками сразу выставляет счёт.
func (h *ReportHandler) Validate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req validateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	actor := actorID(c)
	if actor == nil {
		fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
		return
	}
	in := service.ValidateReportInput{
		ReportID:    id,
		ValidatedBy: *actor,
		LineItems:   toLineItems(req.LineItems),
		Notes:       req.Notes,
	}
	if req.DiscountAmount != nil {
		in.DiscountAmount = *req.DiscountAmount
	}
	res, err := h.svc.ValidateAndBill(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, validateResponse(res))
}

type rejectRequest struct {
	RejectionReason string `json:"rejection_reason" binding:"required"`
}

func (h *ReportHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.svc.Reject(c.Request.Context(), id, req.RejectionReason, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
