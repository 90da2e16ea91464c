package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    *uuid.UUID `gorm:"type:uuid" json:"actor_id,omitempty"`
	EntityType string     `gorm:"type:varchar(32);index:idx_audit_entity;not null" json:"entity_type"`
	EntityID   uuid.UUID  `gorm:"type:uuid;index:idx_audit_entity;not null" json:"entity_id"`
	Action     string     `gorm:"type:varchar(64);not null" json:"action"`
	Field      string     `gorm:"type:varchar(64)" json:"field,omitempty"`
	OldValue   string     `gorm:"type:text" json:"old_value,omitempty"`
	NewValue   string     `gorm:"type:text" json:"new_value,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
