package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/automation"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/media"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/workflow"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PDFGenerator рендерит PDF отчёта на внешней платформе.
type PDFGenerator interface {
	GenerateReportPDF(ctx context.Context, req automation.ReportPDFRequest) (string, error)
}

type Transcriber interface {
	TranscriptionEnabled() bool
	RequestTranscription(ctx context.Context, req automation.TranscriptionRequest) error
}

// Причины, по которым валидация не создала счёт.
const (
	ReasonNonBillable   = "non_billable"
	ReasonNoLineItems   = "no_line_items"
	ReasonAlreadyBilled = "already_billed"
)

type ReportDeps struct {
	Invoices    *InvoiceService
	Media       *media.Promoter
	PDF         PDFGenerator
	Transcriber Transcriber
	// CallbackURL — куда платформа вернёт результат транскрипции.
	CallbackURL string
}

type ReportService struct {
	base
	deps ReportDeps
}

func NewReportService(db *gorm.DB, events kafka.EventPublisher, log *zap.Logger, deps ReportDeps) *ReportService {
	if deps.Media == nil {
		deps.Media = media.NewPromoter(nil)
	}
	return &ReportService{base: newBase(db, events, log), deps: deps}
}

type SubmitReportInput struct {
	InterventionID      uuid.UUID
	TechnicianID        uuid.UUID
	TextContent         string
	VocalURL            string
	VocalTranscription  string
	Photos              []model.Photo
	Checklist           []model.ChecklistItem
	IsBillable          *bool
	NonBillableReason   string
	WorkDurationMinutes *int
	MaterialsUsed       []model.Material
	SuppliesNote        string
	ClientSignature     string
	// Status: "" или submitted — отправка, draft — черновик.
	Status string
	// Revision — ревизия, которую видел клиент; nil отключает проверку на входе.
	Revision *int
}

type SubmitReportResult struct {
	Report             *model.Report
	InterventionStatus model.InterventionStatus
	Created            bool
}

// Submit создаёт или обновляет единственный отчёт интервенции.
// Медиа загружаются до любой записи; обновление идёт с проверкой ревизии.
func (s *ReportService) Submit(ctx context.Context, in SubmitReportInput) (*SubmitReportResult, error) {
	status, err := workflow.SubmittedStatus(in.Status)
	if err != nil {
		return nil, err
	}
	billable := true
	if in.IsBillable != nil {
		billable = *in.IsBillable
	}
	reason := strings.TrimSpace(in.NonBillableReason)
	if !billable && reason == "" {
		return nil, validationError("billable_reason is required when is_billable is false")
	}
	if billable {
		reason = ""
	}
	if status == model.ReportSubmitted && strings.TrimSpace(in.TextContent) == "" && strings.TrimSpace(in.VocalTranscription) == "" {
		return nil, validationError("text_content or vocal_transcription is required")
	}
	if in.WorkDurationMinutes != nil && *in.WorkDurationMinutes < 0 {
		return nil, validationError("work_duration_minutes must not be negative")
	}
	for i, m := range in.MaterialsUsed {
		if m.Quantity.IsNegative() || m.UnitPrice.IsNegative() {
			return nil, validationError("materials_used[%d]: negative quantity or price", i)
		}
	}

	db := s.db.WithContext(ctx)
	it, err := s.loadIntervention(db, in.InterventionID)
	if err != nil {
		return nil, err
	}
	existing, err := s.findByIntervention(db, in.InterventionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := workflow.CanEditReport(existing.Status); err != nil {
			return nil, err
		}
		if in.Revision != nil && *in.Revision != existing.Revision {
			return nil, fmt.Errorf("revision %d, current %d: %w", *in.Revision, existing.Revision, errs.ErrRevisionConflict)
		}
	}
	if !workflow.CanSubmitReport(it.Status) {
		return nil, fmt.Errorf("report for intervention in status %s: %w", it.Status, errs.ErrInvalidTransition)
	}
	if err := ensureTechnician(db, in.TechnicianID); err != nil {
		return nil, err
	}

	promoted, err := s.deps.Media.Promote(ctx, "reports/"+in.InterventionID.String(), media.ReportMedia{
		Photos:    in.Photos,
		Signature: in.ClientSignature,
		Vocal:     in.VocalURL,
	})
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"technician_id":         in.TechnicianID,
		"text_content":          in.TextContent,
		"vocal_url":             promoted.Vocal,
		"photos":                datatypes.JSONSlice[model.Photo](nonNil(promoted.Photos)),
		"checklist":             datatypes.JSONSlice[model.ChecklistItem](nonNil(in.Checklist)),
		"is_billable":           billable,
		"non_billable_reason":   reason,
		"work_duration_minutes": in.WorkDurationMinutes,
		"materials_used":        datatypes.JSONSlice[model.Material](nonNil(in.MaterialsUsed)),
		"supplies_note":         in.SuppliesNote,
		"client_signature_url":  promoted.Signature,
		"status":                status,
	}
	if in.VocalTranscription != "" {
		fields["vocal_transcription"] = in.VocalTranscription
	}

	res := &SubmitReportResult{}
	var f feed
	err = db.Transaction(func(tx *gorm.DB) error {
		it, err := s.loadIntervention(tx, in.InterventionID)
		if err != nil {
			return err
		}
		if !workflow.CanSubmitReport(it.Status) {
			return fmt.Errorf("report for intervention in status %s: %w", it.Status, errs.ErrInvalidTransition)
		}
		current, err := s.findByIntervention(tx, in.InterventionID)
		if err != nil {
			return err
		}
		var from model.ReportStatus
		var report *model.Report
		if current == nil {
			if existing != nil {
				return fmt.Errorf("report removed concurrently: %w", errs.ErrRevisionConflict)
			}
			report = &model.Report{
				InterventionID:      in.InterventionID,
				TechnicianID:        in.TechnicianID,
				TextContent:         in.TextContent,
				VocalURL:            promoted.Vocal,
				VocalTranscription:  in.VocalTranscription,
				Photos:              nonNil(promoted.Photos),
				Checklist:           nonNil(in.Checklist),
				IsBillable:          billable,
				NonBillableReason:   reason,
				WorkDurationMinutes: in.WorkDurationMinutes,
				MaterialsUsed:       nonNil(in.MaterialsUsed),
				SuppliesNote:        in.SuppliesNote,
				ClientSignatureURL:  promoted.Signature,
				Status:              status,
				Revision:            1,
			}
			if err := tx.Create(report).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("report created concurrently: %w", errs.ErrRevisionConflict)
				}
				return fmt.Errorf("create report: %w", err)
			}
			res.Created = true
		} else {
			if err := workflow.CanEditReport(current.Status); err != nil {
				return err
			}
			expected := current.Revision
			if existing != nil {
				expected = existing.Revision
			}
			from = current.Status
			fields["revision"] = gorm.Expr("revision + 1")
			upd := tx.Model(&model.Report{}).Where("id = ? AND revision = ?", current.ID, expected).Updates(fields)
			if upd.Error != nil {
				return fmt.Errorf("update report: %w", upd.Error)
			}
			if upd.RowsAffected == 0 {
				return fmt.Errorf("report %s revision %d: %w", current.ID, expected, errs.ErrRevisionConflict)
			}
			if report, err = s.loadReport(tx, current.ID); err != nil {
				return err
			}
		}

		if status == model.ReportSubmitted {
			now := s.now()
			if err := s.transitionIntervention(tx, it, model.InterventionTermine, &in.TechnicianID,
				map[string]interface{}{"date_completed": now}, &f); err != nil {
				return err
			}
		}
		if from != report.Status {
			if err := s.audit(tx, &in.TechnicianID, "report", report.ID, "status_changed", "status", string(from), string(report.Status)); err != nil {
				return err
			}
			f.add(kafka.EventReportStatusChanged, report.ID, reportEvent(report, from))
		}
		res.Report = report
		res.InterventionStatus = it.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	s.log.Info("report saved",
		zap.String("report_id", res.Report.ID.String()),
		zap.String("intervention_id", in.InterventionID.String()),
		zap.String("status", string(res.Report.Status)),
		zap.Int("revision", res.Report.Revision))
	return res, nil
}

type ValidateReportInput struct {
	ReportID       uuid.UUID
	ValidatedBy    uuid.UUID
	LineItems      []model.LineItem
	DiscountAmount decimal.Decimal
	Notes          string
}

type ValidateReportResult struct {
	Report             *model.Report
	InterventionStatus model.InterventionStatus
	AlreadyValidated   bool
	Invoice            *model.Invoice
	// Reason заполнен, когда счёт не создан.
	Reason string
}

// Validate — валидация без выставления счёта.
func (s *ReportService) Validate(ctx context.Context, reportID, validatorID uuid.UUID) (*ValidateReportResult, error) {
	return s.ValidateAndBill(ctx, ValidateReportInput{ReportID: reportID, ValidatedBy: validatorID})
}

// ValidateAndBill валидирует отчёт и, если он оплачиваемый и есть строки, создаёт счёт в той же транзакции.
// Повторная валидация — no-op; повторный счёт не создаётся.
func (s *ReportService) ValidateAndBill(ctx context.Context, in ValidateReportInput) (*ValidateReportResult, error) {
	if len(in.LineItems) > 0 && s.deps.Invoices == nil {
		return nil, fmt.Errorf("invoicing: %w", errs.ErrNotConfigured)
	}
	res := &ValidateReportResult{}
	var f feed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report, err := s.loadReport(tx, in.ReportID)
		if err != nil {
			return err
		}
		it, err := s.loadIntervention(tx, report.InterventionID)
		if err != nil {
			return err
		}
		noop, err := workflow.CanValidateReport(report.Status)
		if err != nil {
			return err
		}
		res.AlreadyValidated = noop
		if !noop {
			if err := s.validateTx(tx, report, it, in.ValidatedBy, &f); err != nil {
				return err
			}
		}
		res.Report = report
		res.InterventionStatus = it.Status

		switch {
		case !report.IsBillable:
			res.Reason = ReasonNonBillable
			return nil
		case len(in.LineItems) == 0:
			res.Reason = ReasonNoLineItems
			return nil
		}
		var invoiced int64
		if err := tx.Model(&model.Invoice{}).Where("report_id = ?", report.ID).Count(&invoiced).Error; err != nil {
			return err
		}
		if invoiced > 0 || it.Status == model.InterventionBilled {
			res.Reason = ReasonAlreadyBilled
			return nil
		}
		inv, err := s.deps.Invoices.createTx(tx, report, it, InvoiceInput{
			LineItems:      in.LineItems,
			DiscountAmount: in.DiscountAmount,
			Notes:          in.Notes,
		}, &in.ValidatedBy, &f)
		if err != nil {
			return err
		}
		res.Invoice = inv
		res.InterventionStatus = it.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	if !res.AlreadyValidated {
		s.attachPDF(ctx, res.Report)
	}
	return res, nil
}

func (s *ReportService) validateTx(tx *gorm.DB, report *model.Report, it *model.Intervention, validator uuid.UUID, f *feed) error {
	var n int64
	if err := tx.Model(&model.User{}).Where("id = ?", validator).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("validator %s: %w", validator, errs.ErrUserNotFound)
	}
	if it.Status == model.InterventionPlanifie || it.Status == model.InterventionEnCours {
		var extra map[string]interface{}
		if it.DateCompleted == nil {
			extra = map[string]interface{}{"date_completed": s.now()}
		}
		if err := s.transitionIntervention(tx, it, model.InterventionTermine, &validator, extra, f); err != nil {
			return err
		}
	}
	if err := s.transitionIntervention(tx, it, workflow.ValidatedOutcome(report.IsBillable), &validator, nil, f); err != nil {
		return err
	}
	from := report.Status
	now := s.now()
	upd := tx.Model(&model.Report{}).
		Where("id = ? AND revision = ?", report.ID, report.Revision).
		Updates(map[string]interface{}{
			"status":       model.ReportValidated,
			"validated_at": now,
			"validated_by": validator,
			"revision":     gorm.Expr("revision + 1"),
		})
	if upd.Error != nil {
		return fmt.Errorf("validate report: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		return fmt.Errorf("report %s: %w", report.ID, errs.ErrRevisionConflict)
	}
	report.Status = model.ReportValidated
	report.ValidatedAt = &now
	report.ValidatedBy = &validator
	report.Revision++
	if err := s.audit(tx, &validator, "report", report.ID, "status_changed", "status", string(from), string(report.Status)); err != nil {
		return err
	}
	f.add(kafka.EventReportStatusChanged, report.ID, reportEvent(report, from))
	return nil
}

// attachPDF — best effort: ошибка платформы только логируется.
func (s *ReportService) attachPDF(ctx context.Context, report *model.Report) {
	if s.deps.PDF == nil {
		return
	}
	pdfURL, err := s.deps.PDF.GenerateReportPDF(ctx, automation.ReportPDFRequest{
		ReportID:       report.ID.String(),
		InterventionID: report.InterventionID.String(),
	})
	if err != nil {
		if !errors.Is(err, errs.ErrNotConfigured) {
			s.log.Warn("report pdf generation failed", zap.String("report_id", report.ID.String()), zap.Error(err))
		}
		return
	}
	if pdfURL == "" {
		return
	}
	if err := s.db.WithContext(ctx).Model(&model.Report{}).Where("id = ?", report.ID).Update("pdf_url", pdfURL).Error; err != nil {
		s.log.Warn("store report pdf url", zap.String("report_id", report.ID.String()), zap.Error(err))
		return
	}
	report.PDFURL = pdfURL
}

// Reject возвращает отчёт технику. Интервенция не меняется.
func (s *ReportService) Reject(ctx context.Context, reportID uuid.UUID, reason string, actor *uuid.UUID) (*model.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("rejection_reason is required")
	}
	var f feed
	var report *model.Report
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if report, err = s.loadReport(tx, reportID); err != nil {
			return err
		}
		if err := workflow.CanRejectReport(report.Status); err != nil {
			return err
		}
		from := report.Status
		upd := tx.Model(&model.Report{}).
			Where("id = ? AND revision = ?", report.ID, report.Revision).
			Updates(map[string]interface{}{
				"status":           model.ReportRejected,
				"rejection_reason": reason,
				"rejection_count":  gorm.Expr("rejection_count + 1"),
				"revision":         gorm.Expr("revision + 1"),
			})
		if upd.Error != nil {
			return fmt.Errorf("reject report: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("report %s: %w", report.ID, errs.ErrRevisionConflict)
		}
		report.Status = model.ReportRejected
		report.RejectionReason = reason
		report.RejectionCount++
		report.Revision++
		if err := s.audit(tx, actor, "report", report.ID, "rejected", "rejection_reason", "", reason); err != nil {
			return err
		}
		f.add(kafka.EventReportStatusChanged, report.ID, reportEvent(report, from))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return report, nil
}

// SaveTranscription — callback платформы с текстом голосовой заметки.
func (s *ReportService) SaveTranscription(ctx context.Context, reportID uuid.UUID, text string) (*model.Report, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationError("transcription is required")
	}
	var report *model.Report
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if report, err = s.loadReport(tx, reportID); err != nil {
			return err
		}
		if err := workflow.CanEditReport(report.Status); err != nil {
			return err
		}
		upd := tx.Model(&model.Report{}).
			Where("id = ? AND revision = ?", report.ID, report.Revision).
			Updates(map[string]interface{}{
				"vocal_transcription": text,
				"revision":            gorm.Expr("revision + 1"),
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("report %s: %w", report.ID, errs.ErrRevisionConflict)
		}
		report.VocalTranscription = text
		report.Revision++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

type TranscriptionTrigger struct {
	AudioURL       string
	ReportID       *uuid.UUID
	InterventionID *uuid.UUID
}

// RequestTranscription пересылает аудио на платформу; результат вернётся в SaveTranscription.
func (s *ReportService) RequestTranscription(ctx context.Context, in TranscriptionTrigger) error {
	if strings.TrimSpace(in.AudioURL) == "" {
		return validationError("audio_url is required")
	}
	if s.deps.Transcriber == nil || !s.deps.Transcriber.TranscriptionEnabled() {
		return fmt.Errorf("transcription: %w", errs.ErrNotConfigured)
	}
	db := s.db.WithContext(ctx)
	if in.ReportID != nil {
		if _, err := s.loadReport(db, *in.ReportID); err != nil {
			return err
		}
	}
	if in.InterventionID != nil {
		if _, err := s.loadIntervention(db, *in.InterventionID); err != nil {
			return err
		}
	}
	return s.deps.Transcriber.RequestTranscription(ctx, automation.TranscriptionRequest{
		AudioURL:       in.AudioURL,
		ReportID:       uuidString(in.ReportID),
		InterventionID: uuidString(in.InterventionID),
		CallbackURL:    s.deps.CallbackURL,
	})
}

func (s *ReportService) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	return s.loadReport(s.db.WithContext(ctx), id)
}

func (s *ReportService) List(ctx context.Context, status string, limit, offset int) ([]model.Report, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Report{})
	switch model.ReportStatus(status) {
	case "":
	case model.ReportDraft, model.ReportSubmitted, model.ReportValidated, model.ReportRejected:
		tx = tx.Where("status = ?", status)
	default:
		return nil, 0, validationError("unknown report status %q", status)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []model.Report
	if err := paginate(tx, limit, offset).Order("updated_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *ReportService) findByIntervention(tx *gorm.DB, interventionID uuid.UUID) (*model.Report, error) {
	var r model.Report
	err := tx.Where("intervention_id = ?", interventionID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func reportEvent(r *model.Report, from model.ReportStatus) map[string]interface{} {
	return map[string]interface{}{
		"report_id":       r.ID.String(),
		"intervention_id": r.InterventionID.String(),
		"from":            string(from),
		"status":          string(r.Status),
		"is_billable":     r.IsBillable,
		"revision":        r.Revision,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
