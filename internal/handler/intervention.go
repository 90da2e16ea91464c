package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"go.uber.org/zap"
)

type InterventionHandler struct {
	svc     *service.InterventionService
	reports *service.ReportService
	log     *zap.Logger
}

func NewInterventionHandler(svc *service.InterventionService, reports *service.ReportService, log *zap.Logger) *InterventionHandler {
	return &InterventionHandler{svc: svc, reports: reports, log: log}
}

type createInterventionRequest struct {
	Status                   string     `json:"status" binding:"omitempty,oneof=nouveau planifie"`
	Title                    string     `json:"title" binding:"required"`
	Description              string     `json:"description"`
	Address                  string     `json:"address"`
	DatePlanned              *time.Time `json:"date_planned"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes" binding:"omitempty,min=1"`
	TechnicianID             string     `json:"technician_id" binding:"omitempty,uuid"`
	RegieID                  string     `json:"regie_id" binding:"omitempty,uuid"`
	ClientName               string     `json:"client_name"`
	ClientPhone              string     `json:"client_phone"`
	ClientEmail              string     `json:"client_email" binding:"omitempty,email"`
	Apartment                string     `json:"apartment"`
	Priority                 int        `json:"priority" binding:"min=0,max=2"`
	WorkOrderNumber          string     `json:"work_order_number"`
	Notes                    string     `json:"notes"`
}

func (h *InterventionHandler) Create(c *gin.Context) {
	var req createInterventionRequest
	if !bindJSON(c, &req) {
		return
	}
	it, err := h.svc.Create(c.Request.Context(), service.CreateInterventionInput{
		Status:                   model.InterventionStatus(req.Status),
		Title:                    req.Title,
		Description:              req.Description,
		Address:                  req.Address,
		DatePlanned:              req.DatePlanned,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		TechnicianID:             optionalUUID(req.TechnicianID),
		RegieID:                  optionalUUID(req.RegieID),
		ClientInfo: model.ClientInfo{
			Name:      req.ClientName,
			Phone:     req.ClientPhone,
			Email:     req.ClientEmail,
			Apartment: req.Apartment,
		},
		Priority:        req.Priority,
		WorkOrderNumber: req.WorkOrderNumber,
		Notes:           req.Notes,
	}, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *InterventionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	it, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *InterventionHandler) List(c *gin.Context) {
	limit, offset := page(c)
	filter := service.InterventionFilter{
		Status:       c.Query("status"),
		TechnicianID: optionalUUID(c.Query("technician_id")),
		RegieID:      optionalUUID(c.Query("regie_id")),
		Limit:        limit,
		Offset:       offset,
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, msgInvalid, []FieldError{{Field: "from", Rule: "datetime", Param: time.RFC3339}})
			return
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, msgInvalid, []FieldError{{Field: "to", Rule: "datetime", Param: time.RFC3339}})
			return
		}
		filter.To = &t
	}
	items, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *InterventionHandler) Start(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	it, err := h.svc.Start(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *InterventionHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	it, err := h.svc.Cancel(c.Request.Context(), id, actorID(c), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// SubmitReport — отправка отчёта техником из приложения; техник берётся из токена.
func (h *InterventionHandler) SubmitReport(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reportRequest
	if !bindJSON(c, &req) {
		return
	}
	actor := actorID(c)
	if actor == nil {
		fail(c, http.StatusUnauthorized, msgUnauthorized, nil)
		return
	}
	res, err := h.reports.Submit(c.Request.Context(), req.toInput(id, *actor))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, submitResponse(res))
}
