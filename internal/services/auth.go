package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/utils"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid account or password")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
	ErrMobileTaken        = errors.New("mobile phone already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongOldPassword   = errors.New("incorrect old password")
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg, now: time.Now}
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	Email       string `json:"email" binding:"required,email,max=64"`
	MobilePhone string `json:"mobile_phone" binding:"required,numeric,min=6,max=32"`
	Password    string `json:"password" binding:"required,min=6,max=64"`
}

// LoginRequest accepts a username, email or mobile phone as Account.
type LoginRequest struct {
	Account  string `json:"account" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expire_at"`
	User     *models.User `json:"user"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=64"`
}

func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	db := s.db.WithContext(ctx)

	checks := []struct {
		column string
		value  string
		err    error
	}{
		{"username", req.Username, ErrUsernameTaken},
		{"email", strings.ToLower(req.Email), ErrEmailTaken},
		{"mobile_phone", req.MobilePhone, ErrMobileTaken},
	}
	for _, c := range checks {
		var n int64
		if err := db.Model(&models.User{}).Where(c.column+" = ?", c.value).Count(&n).Error; err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, c.err
		}
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:    req.Username,
		Email:       strings.ToLower(req.Email),
		MobilePhone: req.MobilePhone,
		Password:    hashed,
	}
	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	account := strings.TrimSpace(req.Account)
	err := db.Where("username = ? OR email = ? OR mobile_phone = ?", account, strings.ToLower(account), account).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateToken(user.ID, user.Username, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLogin = &now
	db.Model(&user).Update("last_login", now)

	return &LoginResult{
		Token:    token,
		ExpireAt: now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		User:     &user,
	}, nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrWrongOldPassword
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(user).Update("password", hashed).Error
}
