package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type InterventionStatus string

const (
	InterventionNouveau     InterventionStatus = "nouveau"
	InterventionPlanifie    InterventionStatus = "planifie"
	InterventionEnCours     InterventionStatus = "en_cours"
	InterventionTermine     InterventionStatus = "termine"
	InterventionReadyToBill InterventionStatus = "ready_to_bill"
	InterventionArchived    InterventionStatus = "archived"
	InterventionBilled      InterventionStatus = "billed"
	InterventionAnnule      InterventionStatus = "annule"
)

type SourceType string

const (
	SourceManual   SourceType = "manual"
	SourceEmail    SourceType = "email"
	SourceCalendar SourceType = "calendar"
)

const (
	PriorityNormal   = 0
	PriorityUrgent   = 1
	PriorityCritical = 2
)

type ClientInfo struct {
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Apartment string `json:"apartment,omitempty"`
}

type Intervention struct {
	Base
	Status                   InterventionStatus             `gorm:"type:varchar(32);index;not null" json:"status"`
	Title                    string                         `gorm:"type:varchar(255);not null" json:"title"`
	Description              string                         `gorm:"type:text" json:"description,omitempty"`
	Address                  string                         `gorm:"type:text" json:"address"`
	DatePlanned              *time.Time                     `json:"date_planned,omitempty"`
	EstimatedDurationMinutes int                            `gorm:"not null;default:60" json:"estimated_duration_minutes"`
	DateCompleted            *time.Time                     `json:"date_completed,omitempty"`
	TechnicianID             *uuid.UUID                     `gorm:"type:uuid;index" json:"technician_id,omitempty"`
	RegieID                  *uuid.UUID                     `gorm:"type:uuid;index" json:"regie_id,omitempty"`
	ClientInfo               datatypes.JSONType[ClientInfo] `gorm:"type:jsonb;not null" json:"client_info"`
	Priority                 int                            `gorm:"not null;default:0" json:"priority"`
	SourceType               SourceType                     `gorm:"type:varchar(16);not null" json:"source_type"`
	SourceEmailID            *uuid.UUID                     `gorm:"type:uuid" json:"source_email_id,omitempty"`
	GoogleCalendarEventID    *string                        `gorm:"type:varchar(255);uniqueIndex" json:"google_calendar_event_id,omitempty"`
	WorkOrderNumber          string                         `gorm:"type:varchar(64)" json:"work_order_number,omitempty"`
	Notes                    string                         `gorm:"type:text" json:"notes,omitempty"`
}

func (Intervention) TableName() string { return "interventions" }
