package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/matching"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/workflow"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InterventionService struct {
	base
	staffDomains []string
}

func NewInterventionService(db *gorm.DB, events kafka.EventPublisher, log *zap.Logger, opts Options) *InterventionService {
	return &InterventionService{base: newBase(db, events, log), staffDomains: opts.StaffDomains}
}

type CreateInterventionInput struct {
	Status                   model.InterventionStatus
	Title                    string
	Description              string
	Address                  string
	DatePlanned              *time.Time
	EstimatedDurationMinutes int
	TechnicianID             *uuid.UUID
	RegieID                  *uuid.UUID
	ClientInfo               model.ClientInfo
	Priority                 int
	WorkOrderNumber          string
	Notes                    string
}

// Create — ручное создание. Допустимы только nouveau и planifie (по умолчанию planifie).
func (s *InterventionService) Create(ctx context.Context, in CreateInterventionInput, actor *uuid.UUID) (*model.Intervention, error) {
	status := in.Status
	if status == "" {
		status = model.InterventionPlanifie
	}
	if status != model.InterventionNouveau && status != model.InterventionPlanifie {
		return nil, validationError("status must be nouveau or planifie")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, validationError("title is required")
	}
	if in.Priority < model.PriorityNormal || in.Priority > model.PriorityCritical {
		return nil, validationError("priority must be 0, 1 or 2")
	}
	duration := in.EstimatedDurationMinutes
	if duration <= 0 {
		duration = 60
	}
	it := &model.Intervention{
		Status:                   status,
		Title:                    strings.TrimSpace(in.Title),
		Description:              in.Description,
		Address:                  in.Address,
		DatePlanned:              in.DatePlanned,
		EstimatedDurationMinutes: duration,
		TechnicianID:             in.TechnicianID,
		RegieID:                  in.RegieID,
		ClientInfo:               datatypes.NewJSONType(in.ClientInfo),
		Priority:                 in.Priority,
		SourceType:               model.SourceManual,
		WorkOrderNumber:          in.WorkOrderNumber,
		Notes:                    in.Notes,
	}
	var f feed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.TechnicianID != nil {
			if err := ensureTechnician(tx, *in.TechnicianID); err != nil {
				return err
			}
		}
		if in.RegieID != nil {
			var n int64
			if err := tx.Model(&model.Regie{}).Where("id = ?", *in.RegieID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return errs.ErrRegieNotFound
			}
		}
		if err := tx.Create(it).Error; err != nil {
			return fmt.Errorf("create intervention: %w", err)
		}
		f.add(kafka.EventInterventionStatusChanged, it.ID, map[string]interface{}{
			"intervention_id": it.ID.String(),
			"status":          string(it.Status),
			"source_type":     string(it.SourceType),
		})
		return s.audit(tx, actor, "intervention", it.ID, "created", "status", "", string(it.Status))
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return it, nil
}

func (s *InterventionService) GetByID(ctx context.Context, id uuid.UUID) (*model.Intervention, error) {
	return s.loadIntervention(s.db.WithContext(ctx), id)
}

type InterventionFilter struct {
	Status       string
	TechnicianID *uuid.UUID
	RegieID      *uuid.UUID
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

func (s *InterventionService) List(ctx context.Context, filter InterventionFilter) ([]model.Intervention, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Intervention{})
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	if filter.TechnicianID != nil {
		tx = tx.Where("technician_id = ?", *filter.TechnicianID)
	}
	if filter.RegieID != nil {
		tx = tx.Where("regie_id = ?", *filter.RegieID)
	}
	if filter.From != nil {
		tx = tx.Where("date_planned >= ?", *filter.From)
	}
	if filter.To != nil {
		tx = tx.Where("date_planned < ?", *filter.To)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []model.Intervention
	if err := paginate(tx, filter.Limit, filter.Offset).Order("date_planned ASC, created_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Start: planifie -> en_cours.
func (s *InterventionService) Start(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Intervention, error) {
	return s.transition(ctx, id, model.InterventionEnCours, actor, "")
}

// Cancel переводит в annule из любого нетерминального статуса.
func (s *InterventionService) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string) (*model.Intervention, error) {
	return s.transition(ctx, id, model.InterventionAnnule, actor, reason)
}

func (s *InterventionService) transition(ctx context.Context, id uuid.UUID, to model.InterventionStatus, actor *uuid.UUID, note string) (*model.Intervention, error) {
	var f feed
	var it *model.Intervention
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if it, err = s.loadIntervention(tx, id); err != nil {
			return err
		}
		var extra map[string]interface{}
		if note = strings.TrimSpace(note); note != "" {
			it.Notes = strings.TrimSpace(it.Notes + "\n" + note)
			extra = map[string]interface{}{"notes": it.Notes}
		}
		return s.transitionIntervention(tx, it, to, actor, extra, &f)
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return it, nil
}

const (
	CalendarCreated = "created"
	CalendarUpdated = "updated"
	CalendarDeleted = "deleted"
)

type CalendarEventInput struct {
	EventID      string
	Action       string
	Title        string
	Start        time.Time
	End          time.Time
	Location     string
	Description  string
	Attendees    []string
	RegieKeyword string
}

type CalendarSyncResult struct {
	InterventionID     *uuid.UUID
	Action             string
	TechnicianAssigned bool
	RegieMatched       bool
}

// SyncCalendar применяет событие внешнего календаря. deleted отменяет только интервенцию этого события;
// created/updated делают upsert по event id и не откатывают статус уже начатой работы.
func (s *InterventionService) SyncCalendar(ctx context.Context, in CalendarEventInput) (*CalendarSyncResult, error) {
	switch in.Action {
	case CalendarDeleted:
		return s.cancelByEvent(ctx, in.EventID)
	case CalendarCreated, CalendarUpdated:
	default:
		return nil, validationError("unknown calendar action %q", in.Action)
	}
	if in.End.Before(in.Start) {
		return nil, validationError("end_datetime is before start_datetime")
	}

	regies, err := s.activeRegies(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	keyword := in.RegieKeyword
	if keyword == "" {
		keyword = matching.KeywordFromTitle(in.Title)
	}
	regieID := matching.MatchKeyword(keyword, regies)

	title := matching.CleanTitle(in.Title)
	if title == "" {
		title = "Intervention"
	}
	start := in.Start
	duration := int(math.Round(in.End.Sub(in.Start).Minutes()))

	res := &CalendarSyncResult{RegieMatched: regieID != nil}
	var f feed
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		technicianID, err := s.technicianByAttendees(tx, in.Attendees)
		if err != nil {
			return err
		}
		res.TechnicianAssigned = technicianID != nil

		var it model.Intervention
		err = tx.Where("google_calendar_event_id = ?", in.EventID).First(&it).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			eventID := in.EventID
			it = model.Intervention{
				Status:                   model.InterventionPlanifie,
				Title:                    title,
				Description:              in.Description,
				Address:                  in.Location,
				DatePlanned:              &start,
				EstimatedDurationMinutes: duration,
				TechnicianID:             technicianID,
				RegieID:                  regieID,
				ClientInfo:               datatypes.NewJSONType(model.ClientInfo{}),
				SourceType:               model.SourceCalendar,
				GoogleCalendarEventID:    &eventID,
			}
			if err := tx.Create(&it).Error; err != nil {
				return fmt.Errorf("create intervention: %w", err)
			}
			res.InterventionID = &it.ID
			res.Action = CalendarCreated
			f.add(kafka.EventInterventionStatusChanged, it.ID, map[string]interface{}{
				"intervention_id": it.ID.String(),
				"status":          string(it.Status),
				"source_type":     string(it.SourceType),
			})
			return s.audit(tx, nil, "intervention", it.ID, "created", "google_calendar_event_id", "", eventID)
		}
		if err != nil {
			return err
		}

		changes := map[string]interface{}{
			"title":                      title,
			"address":                    in.Location,
			"date_planned":               start,
			"estimated_duration_minutes": duration,
		}
		if in.Description != "" {
			changes["description"] = in.Description
		}
		if technicianID != nil {
			changes["technician_id"] = *technicianID
		}
		if regieID != nil {
			changes["regie_id"] = *regieID
		}
		if err := tx.Model(&model.Intervention{}).Where("id = ?", it.ID).Updates(changes).Error; err != nil {
			return fmt.Errorf("update intervention: %w", err)
		}
		if it.Status == model.InterventionNouveau {
			if err := s.transitionIntervention(tx, &it, model.InterventionPlanifie, nil, nil, &f); err != nil {
				return err
			}
		}
		res.InterventionID = &it.ID
		res.Action = CalendarUpdated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return res, nil
}

func (s *InterventionService) cancelByEvent(ctx context.Context, eventID string) (*CalendarSyncResult, error) {
	res := &CalendarSyncResult{Action: "cancelled"}
	var f feed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var it model.Intervention
		err := tx.Where("google_calendar_event_id = ?", eventID).First(&it).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res.InterventionID = &it.ID
		if workflow.IsTerminal(it.Status) {
			s.log.Info("calendar delete ignored for closed intervention",
				zap.String("intervention_id", it.ID.String()), zap.String("status", string(it.Status)))
			return nil
		}
		return s.transitionIntervention(tx, &it, model.InterventionAnnule, nil, nil, &f)
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	return res, nil
}

// technicianByAttendees — первый участник из домена сотрудников, который является активным техником.
func (s *InterventionService) technicianByAttendees(tx *gorm.DB, attendees []string) (*uuid.UUID, error) {
	for _, email := range matching.StaffAttendees(attendees, s.staffDomains) {
		var u model.User
		err := tx.Where("LOWER(email) = ? AND role = ? AND is_active = ?", email, model.RoleTechnician, true).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find technician: %w", err)
		}
		return &u.ID, nil
	}
	return nil, nil
}

// Republish повторно отправляет текущий статус интервенций в ленту изменений. Возвращает число событий.
func (s *InterventionService) Republish(ctx context.Context, publish func(ctx context.Context, it *model.Intervention)) (int, error) {
	n := 0
	var batch []model.Intervention
	err := s.db.WithContext(ctx).Order("created_at ASC").FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			publish(ctx, &batch[i])
			n++
		}
		return nil
	}).Error
	return n, err
}
