package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WebhookHandler — входящие вызовы платформы автоматизации (/webhooks/*).
type WebhookHandler struct {
	inbox         *service.InboxService
	interventions *service.InterventionService
	reports       *service.ReportService
	log           *zap.Logger
}

func NewWebhookHandler(inbox *service.InboxService, interventions *service.InterventionService, reports *service.ReportService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{inbox: inbox, interventions: interventions, reports: reports, log: log}
}

type emailIngestionRequest struct {
	GmailMessageID  string               `json:"gmail_message_id" binding:"required"`
	ReceivedAt      time.Time            `json:"received_at" binding:"required"`
	FromEmail       string               `json:"from_email" binding:"required,email"`
	FromName        string               `json:"from_name"`
	Subject         string               `json:"subject"`
	BodyText        string               `json:"body_text"`
	BodyHTML        string               `json:"body_html"`
	ExtractedData   *model.ExtractedData `json:"extracted_data"`
	EmailType       *string              `json:"email_type"`
	RegieKeyword    string               `json:"regie_keyword"`
	ConfidenceScore *float64             `json:"confidence_score" binding:"omitempty,min=0,max=1"`
	WorkOrderNumber string               `json:"work_order_number"`
}

func (h *WebhookHandler) EmailIngestion(c *gin.Context) {
	var req emailIngestionRequest
	if !bindJSON(c, &req) {
		return
	}
	in := service.IngestEmailInput{
		GmailMessageID:  req.GmailMessageID,
		ReceivedAt:      req.ReceivedAt,
		FromEmail:       req.FromEmail,
		FromName:        req.FromName,
		Subject:         req.Subject,
		BodyText:        req.BodyText,
		BodyHTML:        req.BodyHTML,
		EmailType:       req.EmailType,
		RegieKeyword:    req.RegieKeyword,
		ConfidenceScore: req.ConfidenceScore,
		WorkOrderNumber: req.WorkOrderNumber,
	}
	if req.ExtractedData != nil {
		in.ExtractedData = *req.ExtractedData
	}
	res, err := h.inbox.Ingest(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if res.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "E-mail déjà traité",
			"email_id":  res.EmailID,
			"duplicate": true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"email_id":      res.EmailID,
		"regie_matched": res.RegieID != nil,
		"regie_id":      res.RegieID,
		"email_type":    res.Kind,
	})
}

type calendarAttendee struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

type calendarSyncRequest struct {
	EventID      string             `json:"event_id" binding:"required"`
	Action       string             `json:"action" binding:"required,oneof=created updated deleted"`
	Title        string             `json:"title" binding:"required"`
	Description  string             `json:"description"`
	Start        *time.Time         `json:"start_datetime" binding:"required_unless=Action deleted"`
	End          *time.Time         `json:"end_datetime" binding:"required_unless=Action deleted"`
	Location     string             `json:"location"`
	Attendees    []calendarAttendee `json:"attendees" binding:"omitempty,dive"`
	RegieKeyword string             `json:"regie_keyword"`
}

func (h *WebhookHandler) CalendarSync(c *gin.Context) {
	var req calendarSyncRequest
	if !bindJSON(c, &req) {
		return
	}
	in := service.CalendarEventInput{
		EventID:      req.EventID,
		Action:       req.Action,
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		RegieKeyword: req.RegieKeyword,
	}
	for _, a := range req.Attendees {
		in.Attendees = append(in.Attendees, a.Email)
	}
	if req.Start != nil {
		in.Start = *req.Start
	}
	if req.End != nil {
		in.End = *req.End
	}
	res, err := h.interventions.SyncCalendar(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if req.Action == service.CalendarDeleted {
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"action":          res.Action,
			"event_id":        req.EventID,
			"intervention_id": res.InterventionID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"intervention_id":     res.InterventionID,
		"action":              res.Action,
		"technician_assigned": res.TechnicianAssigned,
		"regie_matched":       res.RegieMatched,
	})
}

type photoRequest struct {
	URL     string `json:"url" binding:"required"`
	Caption string `json:"caption"`
	Type    string `json:"type" binding:"omitempty,oneof=before after"`
}

type checklistRequest struct {
	Item string `json:"item" binding:"required"`
	Done bool   `json:"done"`
}

type materialRequest struct {
	ProductID string          `json:"product_id" binding:"omitempty,uuid"`
	Name      string          `json:"name" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// reportRequest — общее тело отправки отчёта (вебхук и операторский API).
type reportRequest struct {
	TextContent         string             `json:"text_content"`
	VocalURL            string             `json:"vocal_url"`
	VocalTranscription  string             `json:"vocal_transcription"`
	Photos              []photoRequest     `json:"photos" binding:"omitempty,dive"`
	Checklist           []checklistRequest `json:"checklist" binding:"omitempty,dive"`
	IsBillable          *bool              `json:"is_billable"`
	BillableReason      string             `json:"billable_reason"`
	NonBillableReason   string             `json:"non_billable_reason"`
	WorkDurationMinutes *int               `json:"work_duration_minutes" binding:"omitempty,min=0"`
	MaterialsUsed       []materialRequest  `json:"materials_used" binding:"omitempty,dive"`
	SuppliesNote        string             `json:"supplies_note"`
	ClientSignature     string             `json:"client_signature"`
	Status              string             `json:"status" binding:"omitempty,oneof=draft submitted"`
	Revision            *int               `json:"revision" binding:"omitempty,min=1"`
}

func (r *reportRequest) toInput(interventionID, technicianID uuid.UUID) service.SubmitReportInput {
	in := service.SubmitReportInput{
		InterventionID:      interventionID,
		TechnicianID:        technicianID,
		TextContent:         r.TextContent,
		VocalURL:            r.VocalURL,
		VocalTranscription:  r.VocalTranscription,
		IsBillable:          r.IsBillable,
		NonBillableReason:   firstNonEmpty(r.NonBillableReason, r.BillableReason),
		WorkDurationMinutes: r.WorkDurationMinutes,
		SuppliesNote:        r.SuppliesNote,
		ClientSignature:     r.ClientSignature,
		Status:              r.Status,
		Revision:            r.Revision,
	}
	for _, p := range r.Photos {
		in.Photos = append(in.Photos, model.Photo{URL: p.URL, Caption: p.Caption, Type: model.PhotoType(p.Type)})
	}
	for _, it := range r.Checklist {
		in.Checklist = append(in.Checklist, model.ChecklistItem{Item: it.Item, Done: it.Done})
	}
	for _, m := range r.MaterialsUsed {
		in.MaterialsUsed = append(in.MaterialsUsed, model.Material{
			ProductID: optionalUUID(m.ProductID),
			Name:      m.Name,
			Quantity:  m.Quantity,
			UnitPrice: m.UnitPrice,
		})
	}
	return in
}

type webhookReportRequest struct {
	InterventionID string `json:"intervention_id" binding:"required,uuid"`
	TechnicianID   string `json:"technician_id" binding:"required,uuid"`
	reportRequest
}

func (h *WebhookHandler) ReportSubmit(c *gin.Context) {
	var req webhookReportRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.reports.Submit(c.Request.Context(), req.toInput(mustUUID(req.InterventionID), mustUUID(req.TechnicianID)))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, submitResponse(res))
}

func submitResponse(res *service.SubmitReportResult) gin.H {
	return gin.H{
		"success":             true,
		"report_id":           res.Report.ID,
		"status":              res.Report.Status,
		"is_billable":         res.Report.IsBillable,
		"intervention_status": res.InterventionStatus,
		"revision":            res.Report.Revision,
	}
}

type lineItemRequest struct {
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

func toLineItems(items []lineItemRequest) []model.LineItem {
	out := make([]model.LineItem, 0, len(items))
	for _, li := range items {
		out = append(out, model.LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       li.Total,
		})
	}
	return out
}

type invoiceValidateRequest struct {
	ReportID        string            `json:"report_id" binding:"required,uuid"`
	Action          string            `json:"action" binding:"required,oneof=validate reject"`
	ValidatedBy     string            `json:"validated_by" binding:"required_if=Action validate,omitempty,uuid"`
	LineItems       []lineItemRequest `json:"line_items" binding:"omitempty,dive"`
	RejectionReason string            `json:"rejection_reason" binding:"required_if=Action reject"`
	DiscountAmount  *decimal.Decimal  `json:"discount_amount"`
	Notes           string            `json:"notes"`
}

func (h *WebhookHandler) InvoiceValidate(c *gin.Context) {
	var req invoiceValidateRequest
	if !bindJSON(c, &req) {
		return
	}
	reportID := mustUUID(req.ReportID)
	if req.Action == "reject" {
		report, err := h.reports.Reject(c.Request.Context(), reportID, req.RejectionReason, optionalUUID(req.ValidatedBy))
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"action":          "rejected",
			"report_id":       report.ID,
			"invoice_created": false,
			"rejection_count": report.RejectionCount,
		})
		return
	}
	in := service.ValidateReportInput{
		ReportID:    reportID,
		ValidatedBy: mustUUID(req.ValidatedBy),
		LineItems:   toLineItems(req.LineItems),
		Notes:       req.Notes,
	}
	if req.DiscountAmount != nil {
		in.DiscountAmount = *req.DiscountAmount
	}
	res, err := h.reports.ValidateAndBill(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, validateResponse(res))
}

func validateResponse(res *service.ValidateReportResult) gin.H {
	body := gin.H{
		"success":             true,
		"action":              "validated",
		"report_id":           res.Report.ID,
		"intervention_status": res.InterventionStatus,
		"already_validated":   res.AlreadyValidated,
		"invoice_created":     res.Invoice != nil,
	}
	if res.Invoice != nil {
		body["invoice_id"] = res.Invoice.ID
		body["invoice_number"] = res.Invoice.InvoiceNumber
		body["total"] = res.Invoice.Total
	}
	if res.Reason != "" {
		body["reason"] = res.Reason
	}
	if res.Report.PDFURL != "" {
		body["pdf_url"] = res.Report.PDFURL
	}
	return body
}

// transcribeRequest: callback {transcription, report_id} или запуск {audio_url, report_id?, intervention_id?}.
type transcribeRequest struct {
	Transcription  string `json:"transcription"`
	AudioURL       string `json:"audio_url" binding:"required_without=Transcription,omitempty,url"`
	ReportID       string `json:"report_id" binding:"required_with=Transcription,omitempty,uuid"`
	InterventionID string `json:"intervention_id" binding:"omitempty,uuid"`
}

func (h *WebhookHandler) TranscribeAudio(c *gin.Context) {
	var req transcribeRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Transcription) != "" {
		report, err := h.reports.SaveTranscription(c.Request.Context(), mustUUID(req.ReportID), req.Transcription)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "report_id": report.ID, "revision": report.Revision})
		return
	}
	err := h.reports.RequestTranscription(c.Request.Context(), service.TranscriptionTrigger{
		AudioURL:       req.AudioURL,
		ReportID:       optionalUUID(req.ReportID),
		InterventionID: optionalUUID(req.InterventionID),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Transcription demandée"})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
