package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Regie — партнёрская управляющая компания, источник заявок.
type Regie struct {
	Base
	Name               string                      `gorm:"type:varchar(255);not null" json:"name"`
	Keyword            string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"keyword"`
	EmailContact       string                      `gorm:"type:varchar(255)" json:"email_contact,omitempty"`
	EmailDomains       datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"email_domains"`
	Phone              string                      `gorm:"type:varchar(64)" json:"phone,omitempty"`
	Address            string                      `gorm:"type:text" json:"address,omitempty"`
	BillingEmail       string                      `gorm:"type:varchar(255)" json:"billing_email,omitempty"`
	DiscountPercentage decimal.Decimal             `gorm:"type:numeric(5,2);not null;default:0" json:"discount_percentage"`
	Notes              string                      `gorm:"type:text" json:"notes,omitempty"`
	IsActive           bool                        `gorm:"not null" json:"is_active"`
}

func (Regie) TableName() string { return "regies" }
