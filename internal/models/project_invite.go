package models

import "time"

// ProjectInvite is a time-boxed, optionally count-limited join code.
// A nil or zero MaxCount means unlimited uses.
type ProjectInvite struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:64;not null" json:"code"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID" json:"-"`
	CreatorID uint      `gorm:"not null" json:"creator_id"`
	Period    int       `gorm:"not null" json:"period"` // minutes from CreatedAt
	MaxCount  *int      `json:"max_count"`
	UseCount  int       `gorm:"not null;default:0" json:"use_count"`
	CreatedAt time.Time `json:"created_at"`
}

func (ProjectInvite) TableName() string { return "project_invites" }

// Limited reports whether the invite has a use ceiling.
func (i *ProjectInvite) Limited() bool {
	return i.MaxCount != nil && *i.MaxCount > 0
}

// ExpiresAt returns the end of the validity window.
func (i *ProjectInvite) ExpiresAt() time.Time {
	return i.CreatedAt.Add(time.Duration(i.Period) * time.Minute)
}
