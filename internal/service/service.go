package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Options — бизнес-параметры, приходящие из конфигурации.
type Options struct {
	VATRate      float64
	OverdueDays  int
	StaffDomains []string
}

// base — общее для всех сервисов: БД, лента изменений, лог, часы.
type base struct {
	db     *gorm.DB
	events kafka.EventPublisher
	log    *zap.Logger
	now    func() time.Time
}

func newBase(db *gorm.DB, events kafka.EventPublisher, log *zap.Logger) base {
	if log == nil {
		log = zap.NewNop()
	}
	return base{db: db, events: events, log: log, now: time.Now}
}

type pendingEvent struct {
	name    string
	key     string
	payload map[string]interface{}
}

// feed копит события внутри транзакции; публикуются только после commit.
type feed []pendingEvent

func (f *feed) add(name string, key uuid.UUID, payload map[string]interface{}) {
	*f = append(*f, pendingEvent{name: name, key: key.String(), payload: payload})
}

// flush — fire-and-forget: событие должно уйти даже при отмене запроса, но с таймаутом.
func (b *base) flush(f feed) {
	if b.events == nil || len(f) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, e := range f {
			b.events.Publish(ctx, e.name, e.key, e.payload)
		}
	}()
}

func (b *base) audit(tx *gorm.DB, actor *uuid.UUID, entity string, id uuid.UUID, action, field, oldValue, newValue string) error {
	row := &model.AuditLog{
		ActorID:    actor,
		EntityType: entity,
		EntityID:   id,
		Action:     action,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  b.now(),
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("audit %s %s: %w", entity, action, err)
	}
	return nil
}

// transitionIntervention применяет переход через машину состояний с проверкой текущего статуса в WHERE.
// extra — дополнительные поля того же UPDATE (date_completed и т.п.).
func (b *base) transitionIntervention(tx *gorm.DB, it *model.Intervention, to model.InterventionStatus, actor *uuid.UUID, extra map[string]interface{}, f *feed) error {
	from := it.Status
	if err := workflow.CheckIntervention(from, to); err != nil {
		return err
	}
	changes := map[string]interface{}{"status": to}
	for k, v := range extra {
		changes[k] = v
	}
	res := tx.Model(&model.Intervention{}).Where("id = ? AND status = ?", it.ID, from).Updates(changes)
	if res.Error != nil {
		return fmt.Errorf("update intervention status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("intervention %s changed concurrently: %w", it.ID, errs.ErrInvalidTransition)
	}
	it.Status = to
	if from == to {
		return nil
	}
	if err := b.audit(tx, actor, "intervention", it.ID, "status_changed", "status", string(from), string(to)); err != nil {
		return err
	}
	f.add(kafka.EventInterventionStatusChanged, it.ID, map[string]interface{}{
		"intervention_id": it.ID.String(),
		"from":            string(from),
		"status":          string(to),
	})
	return nil
}

func (b *base) loadIntervention(tx *gorm.DB, id uuid.UUID) (*model.Intervention, error) {
	var it model.Intervention
	if err := tx.First(&it, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrInterventionNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (b *base) loadReport(tx *gorm.DB, id uuid.UUID) (*model.Report, error) {
	var r model.Report
	if err := tx.First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrReportNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (b *base) activeRegies(tx *gorm.DB) ([]model.Regie, error) {
	var regies []model.Regie
	if err := tx.Where("is_active = ?", true).Order("name ASC, id ASC").Find(&regies).Error; err != nil {
		return nil, fmt.Errorf("list regies: %w", err)
	}
	return regies, nil
}

func paginate(tx *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx = tx.Limit(limit)
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	return tx
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrValidation)
}
