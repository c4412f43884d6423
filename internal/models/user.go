package models

import (
	"time"
)

// User is an account. Users are never hard-deleted.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email       string     `gorm:"uniqueIndex;size:64;not null" json:"email"`
	MobilePhone string     `gorm:"uniqueIndex;size:32;not null" json:"mobile_phone"`
	Password    string     `gorm:"size:128;not null" json:"-"` // bcrypt hash
	LastLogin   *time.Time `json:"last_login"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }
