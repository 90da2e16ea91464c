package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EmailStatus string

const (
	EmailNew       EmailStatus = "new"
	EmailProcessed EmailStatus = "processed"
	EmailIgnored   EmailStatus = "ignored"
)

// ExtractedData — поля, извлечённые платформой автоматизации из письма (best-effort).
type ExtractedData struct {
	Title            string `json:"title,omitempty"`
	ClientName       string `json:"client_name,omitempty"`
	TenantName       string `json:"tenant_name,omitempty"`
	TenantPhone      string `json:"tenant_phone,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	Apartment        string `json:"apartment,omitempty"`
	Description      string `json:"description,omitempty"`
	IssueDescription string `json:"issue_description,omitempty"`
	Priority         string `json:"priority,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	EmailType        string `json:"email_type,omitempty"`
}

type EmailInbox struct {
	Base
	GmailMessageID  string                            `gorm:"type:varchar(255);uniqueIndex;not null" json:"gmail_message_id"`
	ReceivedAt      time.Time                         `gorm:"not null" json:"received_at"`
	FromEmail       string                            `gorm:"type:varchar(255);not null" json:"from_email"`
	FromName        string                            `gorm:"type:varchar(255)" json:"from_name,omitempty"`
	Subject         string                            `gorm:"type:text" json:"subject,omitempty"`
	BodyText        string                            `gorm:"type:text" json:"body_text,omitempty"`
	BodyHTML        string                            `gorm:"column:body_html;type:text" json:"body_html,omitempty"`
	ExtractedData   datatypes.JSONType[ExtractedData] `gorm:"type:jsonb;not null" json:"extracted_data"`
	EmailType       *string                           `gorm:"type:varchar(32)" json:"email_type,omitempty"`
	RegieID         *uuid.UUID                        `gorm:"type:uuid;index" json:"regie_id,omitempty"`
	ConfidenceScore *float64                          `json:"confidence_score,omitempty"`
	WorkOrderNumber string                            `gorm:"type:varchar(64)" json:"work_order_number,omitempty"`
	Status          EmailStatus                       `gorm:"type:varchar(16);index;not null" json:"status"`
	ProcessedAt     *time.Time                        `json:"processed_at,omitempty"`
	InterventionID  *uuid.UUID                        `gorm:"type:uuid" json:"intervention_id,omitempty"`
}

func (EmailInbox) TableName() string { return "email_inbox" }
