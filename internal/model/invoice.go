package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceGenerated InvoiceStatus = "generated"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
)

type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Invoice struct {
	Base
	InvoiceNumber  string                        `gorm:"type:varchar(32);uniqueIndex;not null" json:"invoice_number"`
	ReportID       uuid.UUID                     `gorm:"type:uuid;index;not null" json:"report_id"`
	InterventionID uuid.UUID                     `gorm:"type:uuid;index;not null" json:"intervention_id"`
	ClientName     string                        `gorm:"type:varchar(255)" json:"client_name,omitempty"`
	ClientAddress  string                        `gorm:"type:text" json:"client_address,omitempty"`
	LineItems      datatypes.JSONSlice[LineItem] `gorm:"type:jsonb;not null" json:"line_items"`
	Subtotal       decimal.Decimal               `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal               `gorm:"type:numeric(12,2);not null;default:0" json:"discount_amount"`
	VATRate        decimal.Decimal               `gorm:"column:vat_rate;type:numeric(5,2);not null" json:"vat_rate"`
	VATAmount      decimal.Decimal               `gorm:"column:vat_amount;type:numeric(12,2);not null" json:"vat_amount"`
	Total          decimal.Decimal               `gorm:"type:numeric(12,2);not null" json:"total"`
	Status         InvoiceStatus                 `gorm:"type:varchar(16);index;not null" json:"status"`
	IssuedAt       time.Time                     `gorm:"not null" json:"issued_at"`
	SentAt         *time.Time                    `json:"sent_at,omitempty"`
	PaidAt         *time.Time                    `json:"paid_at,omitempty"`
	PDFURL         string                        `gorm:"column:pdf_url;type:text" json:"pdf_url,omitempty"`
	Notes          string                        `gorm:"type:text" json:"notes,omitempty"`

	// Overdue вычисляется при чтении, не хранится.
	Overdue bool `gorm:"-" json:"overdue"`
}

func (Invoice) TableName() string { return "invoices" }

// IsOverdue — счёт отправлен и старше порога.
func (i *Invoice) IsOverdue(now time.Time, overdueDays int) bool {
	if i.Status != InvoiceSent {
		return false
	}
	return i.IssuedAt.Before(now.AddDate(0, 0, -overdueDays))
}
