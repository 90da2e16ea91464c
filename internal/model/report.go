package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
	ReportValidated ReportStatus = "validated"
	ReportRejected  ReportStatus = "rejected"
)

type PhotoType string

const (
	PhotoBefore PhotoType = "before"
	PhotoAfter  PhotoType = "after"
)

type Photo struct {
	URL     string    `json:"url"`
	Caption string    `json:"caption,omitempty"`
	Type    PhotoType `json:"type,omitempty"`
}

type ChecklistItem struct {
	Item string `json:"item"`
	Done bool   `json:"done"`
}

type Material struct {
	ProductID *uuid.UUID      `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Report — отчёт техника, не более одного на интервенцию.
type Report struct {
	Base
	InterventionID      uuid.UUID                          `gorm:"type:uuid;uniqueIndex;not null" json:"intervention_id"`
	TechnicianID        uuid.UUID                          `gorm:"type:uuid;index;not null" json:"technician_id"`
	TextContent         string                             `gorm:"type:text" json:"text_content,omitempty"`
	VocalURL            string                             `gorm:"type:text" json:"vocal_url,omitempty"`
	VocalTranscription  string                             `gorm:"type:text" json:"vocal_transcription,omitempty"`
	Photos              datatypes.JSONSlice[Photo]         `gorm:"type:jsonb;not null" json:"photos"`
	Checklist           datatypes.JSONSlice[ChecklistItem] `gorm:"type:jsonb;not null" json:"checklist"`
	IsBillable          bool                               `gorm:"not null" json:"is_billable"`
	NonBillableReason   string                             `gorm:"type:text" json:"non_billable_reason,omitempty"`
	RejectionReason     string                             `gorm:"type:text" json:"rejection_reason,omitempty"`
	RejectionCount      int                                `gorm:"not null;default:0" json:"rejection_count"`
	WorkDurationMinutes *int                               `json:"work_duration_minutes,omitempty"`
	MaterialsUsed       datatypes.JSONSlice[Material]      `gorm:"type:jsonb;not null" json:"materials_used"`
	SuppliesNote        string                             `gorm:"type:text" json:"supplies_note,omitempty"`
	ClientSignatureURL  string                             `gorm:"type:text" json:"client_signature_url,omitempty"`
	Status              ReportStatus                       `gorm:"type:varchar(16);index;not null" json:"status"`
	ValidatedAt         *time.Time                         `json:"validated_at,omitempty"`
	ValidatedBy         *uuid.UUID                         `gorm:"type:uuid" json:"validated_by,omitempty"`
	PDFURL              string                             `gorm:"column:pdf_url;type:text" json:"pdf_url,omitempty"`
	Revision            int                                `gorm:"not null;default:1" json:"revision"`
}

func (Report) TableName() string { return "reports" }

// HasNarrative — есть текст или транскрипция.
func (r *Report) HasNarrative() bool {
	return r.TextContent != "" || r.VocalTranscription != ""
}
