package models

import "time"

// PolicyCategory classifies a PricePolicy.
type PolicyCategory int8

const (
	PolicyFree  PolicyCategory = 1
	PolicyPaid  PolicyCategory = 2
	PolicyOther PolicyCategory = 3
)

// PricePolicy is an entitlement tier. Rows are reference data and never
// change once created; exactly one row must carry PolicyFree.
type PricePolicy struct {
	ID       uint           `gorm:"primaryKey" json:"id"`
	Category PolicyCategory `gorm:"index;not null;default:1" json:"category"`
	Title    string         `gorm:"size:32;not null" json:"title"`
	Price    int64          `gorm:"not null;default:0" json:"price"` // cents per year

	ProjectNum     int `gorm:"not null" json:"project_num"`
	ProjectMembers int `gorm:"not null" json:"project_members"` // including the creator
	ProjectSpace   int `gorm:"not null" json:"project_space"`   // GB per project
	PerFileSize    int `gorm:"not null" json:"per_file_size"`   // MB per file

	CreatedAt time.Time `json:"created_at"`
}

func (PricePolicy) TableName() string { return "price_policies" }

// ProjectSpaceBytes returns the per-project storage ceiling in bytes.
func (p *PricePolicy) ProjectSpaceBytes() int64 {
	return int64(p.ProjectSpace) << 30
}

// PerFileSizeBytes returns the per-file ceiling in bytes.
func (p *PricePolicy) PerFileSizeBytes() int64 {
	return int64(p.PerFileSize) << 20
}
