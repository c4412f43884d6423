package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/utils"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

// Allowed invite validity windows, in minutes.
var InvitePeriods = []int{30, 60, 300, 1440}

const inviteCodeBytes = 32

var (
	ErrNotProjectCreator = errors.New("only the project creator can do this")
	ErrInvalidPeriod     = errors.New("invalid invite period")
	ErrInvalidMaxCount   = errors.New("max count must not be negative")
)

// Displayable redemption outcomes.
const (
	ReasonInviteNotFound = "invite code not found"
	ReasonCreatorJoin    = "project creator does not need to join"
	ReasonAlreadyJoined  = "already joined this project"
	ReasonInviteExpired  = "invite code has expired"
	ReasonInviteUsedUp   = "invite code has been used up"
	ReasonMemberLimit    = "project member limit reached"
)

// RedeemResult is the outcome of a redemption attempt. A rejected attempt
// has OK false and a Reason; rejections are not errors.
type RedeemResult struct {
	OK        bool   `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ProjectID uint   `json:"project_id,omitempty"`
}

func rejected(reason string) *RedeemResult {
	return &RedeemResult{Reason: reason}
}

// rejection aborts a redemption transaction with a displayable reason.
type rejection struct {
	reason string
}

func (r *rejection) Error() string { return r.reason }

type InviteService struct {
	db          *gorm.DB
	entitlement *EntitlementService
	now         func() time.Time
}

func NewInviteService(db *gorm.DB, entitlement *EntitlementService) *InviteService {
	return &InviteService{db: db, entitlement: entitlement, now: time.Now}
}

type CreateInviteRequest struct {
	Period   int  `json:"period" binding:"required"`
	MaxCount *int `json:"max_count"`
}

func validPeriod(period int) bool {
	for _, p := range InvitePeriods {
		if p == period {
			return true
		}
	}
	return false
}

func (s *InviteService) CreateInvite(ctx context.Context, project *models.Project, creatorID uint, period int, maxCount *int) (*models.ProjectInvite, error) {
	if project.CreatorID != creatorID {
		return nil, ErrNotProjectCreator
	}
	if !validPeriod(period) {
		return nil, ErrInvalidPeriod
	}
	if maxCount != nil && *maxCount < 0 {
		return nil, ErrInvalidMaxCount
	}

	code, err := utils.RandomHex(inviteCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}

	invite := &models.ProjectInvite{
		Code:      code,
		ProjectID: project.ID,
		CreatorID: creatorID,
		Period:    period,
		MaxCount:  maxCount,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(invite).Error; err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}

	logger.Info().
		Uint("project_id", project.ID).
		Int("period", period).
		Msg("[Invite] invite created")
	return invite, nil
}

// Redeem runs the join checks in order and reports the first that fails.
// On success the use count, member row and join count change together.
func (s *InviteService) Redeem(ctx context.Context, code string, userID uint) (*RedeemResult, error) {
	db := s.db.WithContext(ctx)

	var invite models.ProjectInvite
	if err := db.Where("code = ?", code).Take(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rejected(ReasonInviteNotFound), nil
		}
		return nil, fmt.Errorf("load invite: %w", err)
	}

	var project models.Project
	if err := db.Take(&project, invite.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rejected(ReasonInviteNotFound), nil
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	if project.CreatorID == userID {
		return rejected(ReasonCreatorJoin), nil
	}

	var joined int64
	if err := db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", project.ID, userID).
		Count(&joined).Error; err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if joined > 0 {
		return rejected(ReasonAlreadyJoined), nil
	}

	if s.now().After(invite.ExpiresAt()) {
		return rejected(ReasonInviteExpired), nil
	}

	if invite.Limited() && invite.UseCount >= *invite.MaxCount {
		return rejected(ReasonInviteUsedUp), nil
	}

	// The ceiling belongs to the creator's plan, not the joiner's.
	policy, err := s.entitlement.ResolvePolicy(ctx, project.CreatorID)
	if err != nil {
		return nil, err
	}
	var members int64
	if err := db.Model(&models.ProjectMember{}).
		Where("project_id = ?", project.ID).
		Count(&members).Error; err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	projected := int(members) + 2 // creator + joiner
	if projected > policy.ProjectMembers {
		return rejected(ReasonMemberLimit), nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if invite.Limited() {
			res := tx.Model(&models.ProjectInvite{}).
				Where("id = ? AND use_count < max_count", invite.ID).
				Update("use_count", gorm.Expr("use_count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return &rejection{ReasonInviteUsedUp}
			}
		}

		member := &models.ProjectMember{ProjectID: project.ID, UserID: userID}
		if err := tx.Create(member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &rejection{ReasonAlreadyJoined}
			}
			return err
		}

		res := tx.Model(&models.Project{}).
			Where("id = ? AND join_count < ?", project.ID, policy.ProjectMembers).
			Update("join_count", gorm.Expr("join_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &rejection{ReasonMemberLimit}
		}
		return nil
	})

	var rej *rejection
	if errors.As(err, &rej) {
		return rejected(rej.reason), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redeem invite: %w", err)
	}

	logger.Info().
		Uint("project_id", project.ID).
		Uint("user_id", userID).
		Msg("[Invite] user joined project")
	return &RedeemResult{OK: true, ProjectID: project.ID}, nil
}
