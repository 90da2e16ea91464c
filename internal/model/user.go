package model

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSecretary  Role = "secretary"
	RoleTechnician Role = "technician"
)

type User struct {
	Base
	Email     string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Role      Role   `gorm:"type:varchar(32);index;not null" json:"role"`
	FirstName string `gorm:"type:varchar(128)" json:"first_name"`
	LastName  string `gorm:"type:varchar(128)" json:"last_name"`
	Phone     string `gorm:"type:varchar(64)" json:"phone,omitempty"`
	IsActive  bool   `gorm:"not null" json:"is_active"`
}

func (User) TableName() string { return "users" }
