package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

var globalDB *gorm.DB

func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

// RequestMeta carries the caller details recorded with audit rows.
type RequestMeta struct {
	UserID    *uint
	IP        string
	UserAgent string
}

func LogInfo(module, action, message string, meta RequestMeta, extra interface{}) {
	writeLog("info", false, module, action, message, meta, extra)
}

func LogWarning(module, action, message string, meta RequestMeta, extra interface{}) {
	writeLog("warning", false, module, action, message, meta, extra)
}

func LogError(module, action, message string, meta RequestMeta, extra interface{}) {
	writeLog("error", false, module, action, message, meta, extra)
}

// LogSecurity records a security event both in zerolog and in system_logs.
func LogSecurity(module, action, message string, meta RequestMeta, extra interface{}) {
	logger.Security().
		Str("module", module).
		Str("action", action).
		Str("ip", meta.IP).
		Interface("extra", extra).
		Msg(message)
	writeLog("warning", true, module, action, message, meta, extra)
}

func writeLog(level string, security bool, module, action, message string, meta RequestMeta, extra interface{}) {
	if globalDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		Security:  security,
		UserID:    meta.UserID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	if err := globalDB.Create(entry).Error; err != nil {
		logger.Error().Err(err).Str("module", module).Str("action", action).Msg("[SystemLog] write failed")
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

// CleanupOldLogs deletes logs created before cutoff and returns how many went.
func (s *SystemLogService) CleanupOldLogs(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ActivityRequest pages through one user's own log rows.
type ActivityRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Module   string `form:"module"`
}

type ActivityResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

// ListActivity returns userID's log rows, newest first.
func (s *SystemLogService) ListActivity(ctx context.Context, userID uint, req *ActivityRequest) (*ActivityResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.SystemLog{}).Where("user_id = ?", userID)
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	logs := []models.SystemLog{}
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &ActivityResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: logs}, nil
}
