package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangang/tracer/internal/models"
	"gorm.io/gorm"
)

// ErrProjectDenied covers both a missing project and one the user cannot
// see, so callers cannot probe for project ids.
var ErrProjectDenied = errors.New("project not accessible")

type AccessService struct {
	db *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// AuthorizeProject returns the project when userID created it or joined it.
func (s *AccessService) AuthorizeProject(ctx context.Context, userID, projectID uint) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).
		Model(&models.Project{}).
		Select("projects.*").
		Joins("LEFT JOIN project_members ON project_members.project_id = projects.id AND project_members.user_id = ?", userID).
		Where("projects.id = ? AND (projects.creator_id = ? OR project_members.user_id IS NOT NULL)", projectID, userID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectDenied
	}
	if err != nil {
		return nil, fmt.Errorf("authorize project %d: %w", projectID, err)
	}
	return &project, nil
}
