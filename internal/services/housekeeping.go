package services

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const housekeepingLock = "housekeeping"

// maxInvitePeriod bounds every invite window, so anything created before
// now - maxInvitePeriod has certainly expired.
var maxInvitePeriod = time.Duration(InvitePeriods[len(InvitePeriods)-1]) * time.Minute

// HousekeepingReport summarises one run.
type HousekeepingReport struct {
	Skipped        bool
	LogsDeleted    int64
	InvitesDeleted int64
}

// Housekeeper purges old system logs and long-expired invites on a cron
// schedule. A scheduler_locks row per day keeps multiple instances from
// running the same day twice.
type Housekeeper struct {
	db         *gorm.DB
	cfg        config.HousekeepingConfig
	logs       *SystemLogService
	cron       *cron.Cron
	instanceID string
	now        func() time.Time
}

func NewHousekeeper(db *gorm.DB, cfg config.HousekeepingConfig) *Housekeeper {
	host, _ := os.Hostname()
	return &Housekeeper{
		db:         db,
		cfg:        cfg,
		logs:       NewSystemLogService(db),
		instanceID: fmt.Sprintf("%s-%d", host, os.Getpid()),
		now:        time.Now,
	}
}

func (h *Housekeeper) StartScheduler() error {
	h.cron = cron.New()
	if _, err := h.cron.AddFunc(h.cfg.Schedule, func() {
		if _, err := h.RunOnce(); err != nil {
			logger.Error().Err(err).Msg("[Housekeeping] run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule housekeeping %q: %w", h.cfg.Schedule, err)
	}
	h.cron.Start()
	logger.Infof("[Housekeeping] Scheduler started (cron: %s)", h.cfg.Schedule)
	return nil
}

func (h *Housekeeper) StopScheduler() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// RunOnce performs today's purge unless another instance already has.
func (h *Housekeeper) RunOnce() (*HousekeepingReport, error) {
	now := h.now()

	acquired, err := h.acquireLock(now)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Debug().Msg("[Housekeeping] already ran today, skipping")
		return &HousekeepingReport{Skipped: true}, nil
	}

	report := &HousekeepingReport{}

	if h.cfg.LogRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -h.cfg.LogRetentionDays)
		n, err := h.logs.CleanupOldLogs(cutoff)
		if err != nil {
			return nil, fmt.Errorf("purge system logs: %w", err)
		}
		report.LogsDeleted = n
	}

	if h.cfg.InviteRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -h.cfg.InviteRetentionDays).Add(-maxInvitePeriod)
		res := h.db.Where("created_at < ?", cutoff).Delete(&models.ProjectInvite{})
		if res.Error != nil {
			return nil, fmt.Errorf("purge invites: %w", res.Error)
		}
		report.InvitesDeleted = res.RowsAffected
	}

	if err := h.db.Where("lock_name = ? AND expires_at < ?", housekeepingLock, now).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Warn().Err(err).Msg("[Housekeeping] failed to drop stale locks")
	}

	logger.Info().
		Int64("logs", report.LogsDeleted).
		Int64("invites", report.InvitesDeleted).
		Msg("[Housekeeping] purge complete")
	return report, nil
}

func (h *Housekeeper) acquireLock(now time.Time) (bool, error) {
	lock := &models.SchedulerLock{
		LockName:  housekeepingLock,
		LockKey:   now.Format("2006-01-02"),
		LockedBy:  h.instanceID,
		LockedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	err := h.db.Create(lock).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire housekeeping lock: %w", err)
	}
	return true, nil
}
