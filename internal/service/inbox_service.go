package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/matching"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/notify"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InboxService struct {
	base
	notifier notify.Notifier
}

func NewInboxService(db *gorm.DB, events kafka.EventPublisher, notifier notify.Notifier, log *zap.Logger) *InboxService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &InboxService{base: newBase(db, events, log), notifier: notifier}
}

type IngestEmailInput struct {
	GmailMessageID  string
	ReceivedAt      time.Time
	FromEmail       string
	FromName        string
	Subject         string
	BodyText        string
	BodyHTML        string
	ExtractedData   model.ExtractedData
	EmailType       *string
	RegieKeyword    string
	ConfidenceScore *float64
	WorkOrderNumber string
}

type IngestEmailResult struct {
	EmailID   uuid.UUID
	Duplicate bool
	RegieID   *uuid.UUID
	Kind      matching.Kind
}

// Ingest сохраняет входящее письмо один раз на gmail_message_id.
// Регия: сначала по ключевому слову, затем по адресу/домену отправителя.
func (s *InboxService) Ingest(ctx context.Context, in IngestEmailInput) (*IngestEmailResult, error) {
	if existing, err := s.findByMessageID(ctx, in.GmailMessageID); err != nil {
		return nil, err
	} else if existing != nil {
		return duplicateResult(existing), nil
	}

	regies, err := s.activeRegies(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	regieID := matching.MatchKeyword(in.RegieKeyword, regies)
	if regieID == nil {
		regieID = matching.MatchRegie(in.FromEmail, regies)
	}

	e := &model.EmailInbox{
		GmailMessageID:  in.GmailMessageID,
		ReceivedAt:      in.ReceivedAt,
		FromEmail:       strings.TrimSpace(in.FromEmail),
		FromName:        in.FromName,
		Subject:         in.Subject,
		BodyText:        in.BodyText,
		BodyHTML:        in.BodyHTML,
		ExtractedData:   datatypes.NewJSONType(in.ExtractedData),
		EmailType:       in.EmailType,
		RegieID:         regieID,
		ConfidenceScore: in.ConfidenceScore,
		WorkOrderNumber: in.WorkOrderNumber,
		Status:          model.EmailNew,
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.findByMessageID(ctx, in.GmailMessageID)
			if findErr == nil && existing != nil {
				return duplicateResult(existing), nil
			}
		}
		return nil, fmt.Errorf("insert email: %w", err)
	}

	kind := matching.Classify(e)
	var f feed
	f.add(kafka.EventEmailIngested, e.ID, map[string]interface{}{
		"email_id":   e.ID.String(),
		"email_type": string(kind),
		"regie_id":   uuidString(regieID),
	})
	s.flush(f)

	if kind == matching.KindIntervention && matching.PriorityOf(e.Subject, in.ExtractedData) >= model.PriorityUrgent {
		regieName := regieName(regies, regieID)
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.notifier.UrgentRequest(nctx, e, regieName)
		}()
	}

	s.log.Info("email ingested",
		zap.String("email_id", e.ID.String()),
		zap.String("gmail_message_id", e.GmailMessageID),
		zap.Bool("regie_matched", regieID != nil),
		zap.String("email_type", string(kind)))
	return &IngestEmailResult{EmailID: e.ID, RegieID: regieID, Kind: kind}, nil
}

func duplicateResult(e *model.EmailInbox) *IngestEmailResult {
	return &IngestEmailResult{EmailID: e.ID, Duplicate: true, RegieID: e.RegieID, Kind: matching.Classify(e)}
}

func (s *InboxService) findByMessageID(ctx context.Context, id string) (*model.EmailInbox, error) {
	var e model.EmailInbox
	err := s.db.WithContext(ctx).Where("gmail_message_id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find email: %w", err)
	}
	return &e, nil
}

// InboxItem — письмо с вычисленными при чтении регией и типом.
type InboxItem struct {
	model.EmailInbox
	Kind            matching.Kind `json:"kind"`
	ResolvedRegieID *uuid.UUID    `json:"resolved_regie_id,omitempty"`
	Urgent          bool          `json:"urgent"`
}

// List: status = new|processed|ignored|all ("" = new).
func (s *InboxService) List(ctx context.Context, status string, limit, offset int) ([]InboxItem, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.EmailInbox{})
	switch status {
	case "", string(model.EmailNew):
		tx = tx.Where("status = ?", model.EmailNew)
	case string(model.EmailProcessed), string(model.EmailIgnored):
		tx = tx.Where("status = ?", status)
	case "all":
	default:
		return nil, 0, validationError("unknown inbox status %q", status)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []model.EmailInbox
	if err := paginate(tx, limit, offset).Order("received_at DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	regies, err := s.activeRegies(s.db.WithContext(ctx))
	if err != nil {
		return nil, 0, err
	}
	items := make([]InboxItem, len(rows))
	for i := range rows {
		e := rows[i]
		resolved := e.RegieID
		if resolved == nil {
			resolved = matching.MatchRegie(e.FromEmail, regies)
		}
		items[i] = InboxItem{
			EmailInbox:      e,
			Kind:            matching.Classify(&e),
			ResolvedRegieID: resolved,
			Urgent:          matching.PriorityOf(e.Subject, e.ExtractedData.Data()) >= model.PriorityUrgent,
		}
	}
	return items, total, nil
}

func (s *InboxService) GetByID(ctx context.Context, id uuid.UUID) (*model.EmailInbox, error) {
	var e model.EmailInbox
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrEmailNotFound
		}
		return nil, err
	}
	return &e, nil
}

// PlanInput — поля формы планирования; пустые берутся из извлечённых данных письма.
type PlanInput struct {
	Title                    string
	Description              string
	Address                  string
	DatePlanned              *time.Time
	EstimatedDurationMinutes int
	TechnicianID             *uuid.UUID
	RegieID                  *uuid.UUID
	Priority                 *int
	WorkOrderNumber          string
	ClientName               string
	ClientPhone              string
}

// Plan — одноразовое превращение письма в запланированную интервенцию.
func (s *InboxService) Plan(ctx context.Context, emailID uuid.UUID, in PlanInput, actor *uuid.UUID) (*model.Intervention, error) {
	var f feed
	var it *model.Intervention
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e model.EmailInbox
		if err := tx.First(&e, "id = ?", emailID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrEmailNotFound
			}
			return err
		}
		if e.Status != model.EmailNew {
			return errs.ErrEmailAlreadyProcessed
		}
		x := e.ExtractedData.Data()

		regieID := in.RegieID
		if regieID == nil {
			regieID = e.RegieID
		}
		if regieID == nil {
			regies, err := s.activeRegies(tx)
			if err != nil {
				return err
			}
			regieID = matching.MatchRegie(e.FromEmail, regies)
		}
		if in.TechnicianID != nil {
			if err := ensureTechnician(tx, *in.TechnicianID); err != nil {
				return err
			}
		}
		priority := matching.PriorityOf(e.Subject, x)
		if in.Priority != nil {
			priority = *in.Priority
		}
		duration := in.EstimatedDurationMinutes
		if duration <= 0 {
			duration = 60
		}
		client := model.ClientInfo{
			Name:      firstNonEmpty(in.ClientName, x.TenantName, x.ClientName),
			Phone:     firstNonEmpty(in.ClientPhone, x.TenantPhone, x.Phone),
			Apartment: x.Apartment,
		}
		it = &model.Intervention{
			Status:                   model.InterventionPlanifie,
			Title:                    firstNonEmpty(in.Title, x.Title, e.Subject, "Intervention"),
			Description:              firstNonEmpty(in.Description, x.Description, x.IssueDescription, x.Title, e.Subject),
			Address:                  firstNonEmpty(in.Address, x.Address),
			DatePlanned:              in.DatePlanned,
			EstimatedDurationMinutes: duration,
			TechnicianID:             in.TechnicianID,
			RegieID:                  regieID,
			ClientInfo:               datatypes.NewJSONType(client),
			Priority:                 priority,
			SourceType:               model.SourceEmail,
			SourceEmailID:            &e.ID,
			WorkOrderNumber:          firstNonEmpty(in.WorkOrderNumber, e.WorkOrderNumber),
		}
		if err := tx.Create(it).Error; err != nil {
			return fmt.Errorf("create intervention: %w", err)
		}
		now := s.now()
		res := tx.Model(&model.EmailInbox{}).
			Where("id = ? AND status = ?", e.ID, model.EmailNew).
			Updates(map[string]interface{}{
				"status":          model.EmailProcessed,
				"processed_at":    now,
				"intervention_id": it.ID,
			})
		if res.Error != nil {
			return fmt.Errorf("mark email processed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrEmailAlreadyProcessed
		}
		if err := s.audit(tx, actor, "intervention", it.ID, "created", "source_email_id", "", e.ID.String()); err != nil {
			return err
		}
		f.add(kafka.EventInterventionStatusChanged, it.ID, map[string]interface{}{
			"intervention_id": it.ID.String(),
			"status":          string(it.Status),
			"source_type":     string(it.SourceType),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return it, nil
}

// SetStatus — игнорировать или архивировать письмо (только из new).
func (s *InboxService) SetStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus, actor *uuid.UUID) (*model.EmailInbox, error) {
	if status != model.EmailProcessed && status != model.EmailIgnored {
		return nil, validationError("unknown email status %q", status)
	}
	var e model.EmailInbox
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrEmailNotFound
			}
			return err
		}
		if e.Status != model.EmailNew {
			return errs.ErrEmailAlreadyProcessed
		}
		now := s.now()
		res := tx.Model(&model.EmailInbox{}).
			Where("id = ? AND status = ?", id, model.EmailNew).
			Updates(map[string]interface{}{"status": status, "processed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrEmailAlreadyProcessed
		}
		e.Status = status
		e.ProcessedAt = &now
		return s.audit(tx, actor, "email", e.ID, "status_changed", "status", string(model.EmailNew), string(status))
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func ensureTechnician(tx *gorm.DB, id uuid.UUID) error {
	var n int64
	if err := tx.Model(&model.User{}).Where("id = ? AND role = ?", id, model.RoleTechnician).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("technician %s: %w", id, errs.ErrUserNotFound)
	}
	return nil
}

func regieName(regies []model.Regie, id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	for _, r := range regies {
		if r.ID == *id {
			return r.Name
		}
	}
	return ""
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
