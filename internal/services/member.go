package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrMemberNotFound     = errors.New("user is not a member of this project")
	ErrCreatorCannotLeave = errors.New("project creator cannot leave the project")
)

// Participant is one person on a project, the creator included.
type Participant struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsCreator bool      `json:"is_creator"`
	JoinedAt  time.Time `json:"joined_at"`
}

type MemberService struct {
	db *gorm.DB
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// List returns the creator followed by members in join order.
func (s *MemberService) List(ctx context.Context, project *models.Project) ([]Participant, error) {
	db := s.db.WithContext(ctx)

	var creator models.User
	if err := db.Take(&creator, project.CreatorID).Error; err != nil {
		return nil, fmt.Errorf("load creator: %w", err)
	}
	out := []Participant{{
		UserID:    creator.ID,
		Username:  creator.Username,
		Email:     creator.Email,
		IsCreator: true,
		JoinedAt:  project.CreatedAt,
	}}

	var members []models.ProjectMember
	if err := db.Where("project_id = ?", project.ID).
		Preload("User").
		Order("created_at ASC, id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	for _, m := range members {
		p := Participant{UserID: m.UserID, JoinedAt: m.CreatedAt}
		if m.User != nil {
			p.Username = m.User.Username
			p.Email = m.User.Email
		}
		out = append(out, p)
	}
	return out, nil
}

// Remove takes userID off the project. The creator may remove anyone else;
// a member may only remove themselves. join_count drops with the row.
func (s *MemberService) Remove(ctx context.Context, project *models.Project, actorID, userID uint) error {
	if userID == project.CreatorID {
		return ErrCreatorCannotLeave
	}
	if actorID != project.CreatorID && actorID != userID {
		return ErrNotProjectCreator
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("project_id = ? AND user_id = ?", project.ID, userID).Delete(&models.ProjectMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMemberNotFound
		}
		return tx.Model(&models.Project{}).
			Where("id = ? AND join_count > 1", project.ID).
			Update("join_count", gorm.Expr("join_count - 1")).Error
	})
	if err != nil {
		return err
	}

	logger.Info().
		Uint("project_id", project.ID).
		Uint("user_id", userID).
		Uint("by", actorID).
		Msg("[Member] removed")
	return nil
}
