package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base — общие поля сущностей: UUID-ключ и метки времени.
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// All возвращает сущности в порядке создания таблиц (для AutoMigrate в тестах).
func All() []interface{} {
	return []interface{}{
		&User{},
		&Regie{},
		&EmailInbox{},
		&Intervention{},
		&Report{},
		&Invoice{},
		&AuditLog{},
	}
}
