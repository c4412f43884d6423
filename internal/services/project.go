package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/storage"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

const (
	bucketTimeout    = 30 * time.Second
	uploadURLTimeout = 15 * time.Minute
)

var (
	ErrProjectLimitReached = errors.New("project limit of current plan reached")
	ErrProjectNameTaken    = errors.New("project name already exists")
	ErrProjectNameRequired = errors.New("project name is required")
	ErrProjectNameMismatch = errors.New("project name confirmation does not match")
	ErrProjectNotFound     = errors.New("project not found")
	ErrInvalidStarKind     = errors.New("kind must be my or join")
	ErrInvalidFileSize     = errors.New("file size must be positive")
	ErrFileTooLarge        = errors.New("file exceeds the per-file size limit of current plan")
	ErrSpaceExceeded       = errors.New("project storage space of current plan exhausted")
	ErrStorageUnavailable  = errors.New("object storage unavailable, please retry")
)

const (
	ProjectKindMy   = "my"
	ProjectKindJoin = "join"
)

type ProjectService struct {
	db           *gorm.DB
	storage      storage.ObjectStorage
	bucketPrefix string
	now          func() time.Time
}

func NewProjectService(db *gorm.DB, store storage.ObjectStorage, bucketPrefix string) *ProjectService {
	return &ProjectService{
		db:           db,
		storage:      store,
		bucketPrefix: bucketPrefix,
		now:          time.Now,
	}
}

type CreateProjectRequest struct {
	Name  string `json:"name" binding:"required,max=32"`
	Color int    `json:"color" binding:"omitempty,min=1,max=7"`
	Desc  string `json:"desc" binding:"max=255"`
}

// ProjectItem is a project as seen by one user; Star is that user's star.
type ProjectItem struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Color     int       `json:"color"`
	Desc      string    `json:"desc"`
	UseSpace  int64     `json:"use_space"`
	JoinCount int       `json:"join_count"`
	CreatorID uint      `json:"creator_id"`
	Kind      string    `json:"kind"`
	Star      bool      `json:"star"`
	CreatedAt time.Time `json:"created_at"`
}

type ProjectListResponse struct {
	My   []ProjectItem `json:"my"`
	Join []ProjectItem `json:"join"`
	Star []ProjectItem `json:"star"`
}

// Create makes a project under the creator's project_num ceiling. The bucket
// is created first; if the row cannot be written the bucket is removed again.
func (s *ProjectService) Create(ctx context.Context, userID uint, policy *models.PricePolicy, req *CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrProjectNameRequired
	}

	db := s.db.WithContext(ctx)

	var owned int64
	if err := db.Model(&models.Project{}).Where("creator_id = ?", userID).Count(&owned).Error; err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	if owned >= int64(policy.ProjectNum) {
		return nil, ErrProjectLimitReached
	}

	var dup int64
	if err := db.Model(&models.Project{}).Where("creator_id = ? AND name = ?", userID, name).Count(&dup).Error; err != nil {
		return nil, fmt.Errorf("check project name: %w", err)
	}
	if dup > 0 {
		return nil, ErrProjectNameTaken
	}

	bucket := storage.BucketName(s.bucketPrefix, userID, s.now())
	bctx, cancel := context.WithTimeout(ctx, bucketTimeout)
	defer cancel()
	if err := s.storage.CreateBucket(bctx, bucket); err != nil {
		logger.Error().Err(err).Str("bucket", bucket).Msg("[Project] create bucket failed")
		return nil, ErrStorageUnavailable
	}

	color := req.Color
	if color == 0 {
		color = 1
	}
	project := &models.Project{
		Name:      name,
		Color:     color,
		Desc:      req.Desc,
		JoinCount: 1,
		CreatorID: userID,
		Bucket:    bucket,
		Region:    s.storage.Region(),
	}
	if err := db.Create(project).Error; err != nil {
		if derr := s.storage.DeleteBucket(bctx, bucket); derr != nil {
			logger.Warn().Err(derr).Str("bucket", bucket).Msg("[Project] orphan bucket left behind")
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrProjectNameTaken
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	logger.Info().Uint("project_id", project.ID).Uint("user_id", userID).Msg("[Project] created")
	return project, nil
}

type memberProjectRow struct {
	models.Project
	MemberStar bool
}

// List returns the projects userID created, joined, and starred.
func (s *ProjectService) List(ctx context.Context, userID uint) (*ProjectListResponse, error) {
	db := s.db.WithContext(ctx)
	resp := &ProjectListResponse{My: []ProjectItem{}, Join: []ProjectItem{}, Star: []ProjectItem{}}

	var mine []models.Project
	if err := db.Where("creator_id = ?", userID).Order("id ASC").Find(&mine).Error; err != nil {
		return nil, err
	}
	for _, p := range mine {
		item := toItem(&p, ProjectKindMy, p.Star)
		if item.Star {
			resp.Star = append(resp.Star, item)
		} else {
			resp.My = append(resp.My, item)
		}
	}

	var joined []memberProjectRow
	if err := db.Model(&models.Project{}).
		Select("projects.*, project_members.star AS member_star").
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Order("projects.id ASC").
		Scan(&joined).Error; err != nil {
		return nil, err
	}
	for _, row := range joined {
		item := toItem(&row.Project, ProjectKindJoin, row.MemberStar)
		if item.Star {
			resp.Star = append(resp.Star, item)
		} else {
			resp.Join = append(resp.Join, item)
		}
	}

	return resp, nil
}

func toItem(p *models.Project, kind string, star bool) ProjectItem {
	return ProjectItem{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		Desc:      p.Desc,
		UseSpace:  p.UseSpace,
		JoinCount: p.JoinCount,
		CreatorID: p.CreatorID,
		Kind:      kind,
		Star:      star,
		CreatedAt: p.CreatedAt,
	}
}

// ToggleStar flips userID's star on a project and returns the new value.
func (s *ProjectService) ToggleStar(ctx context.Context, userID, projectID uint, kind string) (bool, error) {
	db := s.db.WithContext(ctx)

	switch kind {
	case ProjectKindMy:
		var p models.Project
		if err := db.Where("id = ? AND creator_id = ?", projectID, userID).Take(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, ErrProjectNotFound
			}
			return false, err
		}
		star := !p.Star
		if err := db.Model(&p).Update("star", star).Error; err != nil {
			return false, err
		}
		return star, nil
	case ProjectKindJoin:
		var m models.ProjectMember
		if err := db.Where("project_id = ? AND user_id = ?", projectID, userID).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, ErrProjectNotFound
			}
			return false, err
		}
		star := !m.Star
		if err := db.Model(&m).Update("star", star).Error; err != nil {
			return false, err
		}
		return star, nil
	default:
		return false, ErrInvalidStarKind
	}
}

// Delete removes the bucket, then the project with its members and invites.
// A bucket failure leaves everything in place.
func (s *ProjectService) Delete(ctx context.Context, project *models.Project, userID uint, confirmName string) error {
	if project.CreatorID != userID {
		return ErrNotProjectCreator
	}
	if confirmName != project.Name {
		return ErrProjectNameMismatch
	}

	bctx, cancel := context.WithTimeout(ctx, bucketTimeout)
	defer cancel()
	if project.Bucket != "" {
		if err := s.storage.DeleteBucket(bctx, project.Bucket); err != nil {
			logger.Error().Err(err).Str("bucket", project.Bucket).Msg("[Project] delete bucket failed")
			return ErrStorageUnavailable
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.ProjectInvite{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, project.ID).Error
	})
	if err != nil {
		return fmt.Errorf("delete project %d: %w", project.ID, err)
	}

	logger.Info().Uint("project_id", project.ID).Msg("[Project] deleted")
	return nil
}

type UploadRequest struct {
	Name string `json:"name" binding:"required,max=255"`
	Size int64  `json:"size" binding:"required"`
}

type UploadReservation struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReserveUpload checks size against the plan, claims the space and returns a
// presigned PUT URL. The claim only succeeds when the project stays within
// its space ceiling.
func (s *ProjectService) ReserveUpload(ctx context.Context, project *models.Project, policy *models.PricePolicy, req *UploadRequest) (*UploadReservation, error) {
	if req.Size <= 0 {
		return nil, ErrInvalidFileSize
	}
	if req.Size > policy.PerFileSizeBytes() {
		return nil, ErrFileTooLarge
	}

	key := uuid.NewString() + "/" + path.Base(strings.ReplaceAll(req.Name, "\\", "/"))
	url, err := s.storage.PresignPut(ctx, project.Bucket, key, uploadURLTimeout)
	if err != nil {
		logger.Error().Err(err).Uint("project_id", project.ID).Msg("[Project] presign upload failed")
		return nil, ErrStorageUnavailable
	}

	res := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ? AND use_space + ? <= ?", project.ID, req.Size, policy.ProjectSpaceBytes()).
		Update("use_space", gorm.Expr("use_space + ?", req.Size))
	if res.Error != nil {
		return nil, fmt.Errorf("claim space: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrSpaceExceeded
	}

	return &UploadReservation{
		Key:       key,
		URL:       url,
		ExpiresAt: s.now().Add(uploadURLTimeout),
	}, nil
}
