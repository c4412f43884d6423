package models

import (
	"time"
)

// Project is owned by exactly one creator. JoinCount counts participants
// including the creator, so a fresh project starts at 1.
type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:32;not null;uniqueIndex:idx_project_creator_name" json:"name"`
	Color     int       `gorm:"default:1" json:"color"`
	Desc      string    `gorm:"size:255" json:"desc"`
	UseSpace  int64     `gorm:"default:0" json:"use_space"` // bytes
	Star      bool      `gorm:"default:false" json:"star"`
	JoinCount int       `gorm:"default:1" json:"join_count"`
	CreatorID uint      `gorm:"not null;index;uniqueIndex:idx_project_creator_name" json:"creator_id"`
	Creator   *User     `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Bucket    string    `gorm:"size:128" json:"-"`
	Region    string    `gorm:"size:32" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }
