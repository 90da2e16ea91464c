package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FilterOverdue — псевдо-статус для списка: sent и старше порога.
const FilterOverdue = "overdue"

type InvoiceService struct {
	base
	vatRate     decimal.Decimal
	overdueDays int
}

func NewInvoiceService(db *gorm.DB, events kafka.EventPublisher, log *zap.Logger, opts Options) *InvoiceService {
	days := opts.OverdueDays
	if days <= 0 {
		days = 30
	}
	return &InvoiceService{
		base:        newBase(db, events, log),
		vatRate:     decimal.NewFromFloat(opts.VATRate),
		overdueDays: days,
	}
}

func (s *InvoiceService) VATRate() decimal.Decimal { return s.vatRate }

type InvoiceInput struct {
	LineItems      []model.LineItem
	DiscountAmount decimal.Decimal
	Notes          string
}

// createTx создаёт счёт по валидированному отчёту и переводит интервенцию ready_to_bill -> billed.
func (s *InvoiceService) createTx(tx *gorm.DB, report *model.Report, it *model.Intervention, in InvoiceInput, actor *uuid.UUID, f *feed) (*model.Invoice, error) {
	items, totals, err := ComputeTotals(in.LineItems, in.DiscountAmount, s.vatRate)
	if err != nil {
		return nil, err
	}
	now := s.now()
	number, err := s.nextNumber(tx, now.Year())
	if err != nil {
		return nil, err
	}
	inv := &model.Invoice{
		InvoiceNumber:  number,
		ReportID:       report.ID,
		InterventionID: it.ID,
		ClientName:     it.ClientInfo.Data().Name,
		ClientAddress:  it.Address,
		LineItems:      items,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.Discount,
		VATRate:        totals.VATRate,
		VATAmount:      totals.VAT,
		Total:          totals.Total,
		Status:         model.InvoiceGenerated,
		IssuedAt:       now,
		Notes:          in.Notes,
	}
	if inv.ClientName == "" && it.RegieID != nil {
		var regie model.Regie
		if err := tx.Select("name").First(&regie, "id = ?", *it.RegieID).Error; err == nil {
			inv.ClientName = regie.Name
		}
	}
	if err := tx.Create(inv).Error; err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	if err := s.audit(tx, actor, "invoice", inv.ID, "created", "total", "", inv.Total.StringFixed(2)); err != nil {
		return nil, err
	}
	if err := s.transitionIntervention(tx, it, model.InterventionBilled, actor, nil, f); err != nil {
		return nil, err
	}
	f.add(kafka.EventInvoiceCreated, inv.ID, map[string]interface{}{
		"invoice_id":      inv.ID.String(),
		"invoice_number":  inv.InvoiceNumber,
		"intervention_id": it.ID.String(),
		"report_id":       report.ID.String(),
		"total":           inv.Total.StringFixed(2),
	})
	return inv, nil
}

// nextNumber выдаёт следующий номер FAC-YYYY-NNNN внутри года.
func (s *InvoiceService) nextNumber(tx *gorm.DB, year int) (string, error) {
	prefix := fmt.Sprintf("FAC-%d-", year)
	var last []string
	if err := tx.Model(&model.Invoice{}).
		Where("invoice_number LIKE ?", prefix+"%").
		Order("LENGTH(invoice_number) DESC, invoice_number DESC").
		Limit(1).
		Pluck("invoice_number", &last).Error; err != nil {
		return "", fmt.Errorf("last invoice number: %w", err)
	}
	seq := 1
	if len(last) == 1 {
		n, err := strconv.Atoi(strings.TrimPrefix(last[0], prefix))
		if err != nil {
			return "", fmt.Errorf("parse invoice number %q: %w", last[0], err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func (s *InvoiceService) GetByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := s.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrInvoiceNotFound
		}
		return nil, err
	}
	inv.Overdue = inv.IsOverdue(s.now(), s.overdueDays)
	return &inv, nil
}

// List: status = generated|sent|paid|overdue|"" (все).
func (s *InvoiceService) List(ctx context.Context, status string, limit, offset int) ([]model.Invoice, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Invoice{})
	switch status {
	case "":
	case FilterOverdue:
		cutoff := s.now().AddDate(0, 0, -s.overdueDays)
		tx = tx.Where("status = ? AND issued_at < ?", model.InvoiceSent, cutoff)
	case string(model.InvoiceGenerated), string(model.InvoiceSent), string(model.InvoicePaid):
		tx = tx.Where("status = ?", status)
	default:
		return nil, 0, validationError("unknown invoice status %q", status)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []model.Invoice
	if err := paginate(tx, limit, offset).Order("issued_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	now := s.now()
	for i := range items {
		items[i].Overdue = items[i].IsOverdue(now, s.overdueDays)
	}
	return items, total, nil
}

var invoiceStatusOrder = map[model.InvoiceStatus]int{
	model.InvoiceGenerated: 0,
	model.InvoiceSent:      1,
	model.InvoicePaid:      2,
}

// UpdateStatus двигает счёт только вперёд: generated -> sent -> paid. Повтор того же статуса — no-op.
func (s *InvoiceService) UpdateStatus(ctx context.Context, id uuid.UUID, to model.InvoiceStatus, actor *uuid.UUID) (*model.Invoice, error) {
	toRank, ok := invoiceStatusOrder[to]
	if !ok {
		return nil, validationError("unknown invoice status %q", to)
	}
	var f feed
	var inv model.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&inv, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrInvoiceNotFound
			}
			return err
		}
		from := inv.Status
		if from == to {
			return nil
		}
		if toRank < invoiceStatusOrder[from] {
			return fmt.Errorf("invoice %s -> %s: %w", from, to, errs.ErrInvalidTransition)
		}
		now := s.now()
		changes := map[string]interface{}{"status": to}
		if to == model.InvoiceSent || (to == model.InvoicePaid && inv.SentAt == nil) {
			changes["sent_at"] = now
			inv.SentAt = &now
		}
		if to == model.InvoicePaid {
			changes["paid_at"] = now
			inv.PaidAt = &now
		}
		res := tx.Model(&model.Invoice{}).Where("id = ? AND status = ?", inv.ID, from).Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("invoice %s changed concurrently: %w", inv.ID, errs.ErrInvalidTransition)
		}
		inv.Status = to
		if err := s.audit(tx, actor, "invoice", inv.ID, "status_changed", "status", string(from), string(to)); err != nil {
			return err
		}
		f.add(kafka.EventInvoiceStatusChanged, inv.ID, map[string]interface{}{
			"invoice_id": inv.ID.String(),
			"from":       string(from),
			"status":     string(to),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(f)
	inv.Overdue = inv.IsOverdue(s.now(), s.overdueDays)
	return &inv, nil
}
