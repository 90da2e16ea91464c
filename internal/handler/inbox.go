package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"go.uber.org/zap"
)

type InboxHandler struct {
	svc *service.InboxService
	log *zap.Logger
}

func NewInboxHandler(svc *service.InboxService, log *zap.Logger) *InboxHandler {
	return &InboxHandler{svc: svc, log: log}
}

func (h *InboxHandler) List(c *gin.Context) {
	limit, offset := page(c)
	items, total, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *InboxHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type planRequest struct {
	Title                    string     `json:"title"`
	Description              string     `json:"description"`
	Address                  string     `json:"address"`
	DatePlanned              *time.Time `json:"date_planned"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes" binding:"omitempty,min=1"`
	TechnicianID             string     `json:"technician_id" binding:"omitempty,uuid"`
	RegieID                  string     `json:"regie_id" binding:"omitempty,uuid"`
	Priority                 *int       `json:"priority" binding:"omitempty,min=0,max=2"`
	WorkOrderNumber          string     `json:"work_order_number"`
	ClientName               string     `json:"client_name"`
	ClientPhone              string     `json:"client_phone"`
}

// Plan превращает письмо new в запланированную интервенцию.
func (h *InboxHandler) Plan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req planRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	it, err := h.svc.Plan(c.Request.Context(), id, service.PlanInput{
		Title:                    req.Title,
		Description:              req.Description,
		Address:                  req.Address,
		DatePlanned:              req.DatePlanned,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		TechnicianID:             optionalUUID(req.TechnicianID),
		RegieID:                  optionalUUID(req.RegieID),
		Priority:                 req.Priority,
		WorkOrderNumber:          req.WorkOrderNumber,
		ClientName:               req.ClientName,
		ClientPhone:              req.ClientPhone,
	}, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *InboxHandler) Ignore(c *gin.Context) {
	h.setStatus(c, model.EmailIgnored)
}

func (h *InboxHandler) Archive(c *gin.Context) {
	h.setStatus(c, model.EmailProcessed)
}

func (h *InboxHandler) setStatus(c *gin.Context, status model.EmailStatus) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.SetStatus(c.Request.Context(), id, status, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
