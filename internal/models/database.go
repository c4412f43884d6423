package models

import (
	"errors"
	"fmt"

	"github.com/huangang/tracer/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DefaultFreePolicy is seeded when no free-category policy exists.
var DefaultFreePolicy = PricePolicy{
	Category:       PolicyFree,
	Title:          "Personal Free",
	Price:          0,
	ProjectNum:     3,
	ProjectMembers: 2,
	ProjectSpace:   20,
	PerFileSize:    5,
}

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true, // unique violations surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg, logger.Warn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// AutoMigrate creates or updates every table on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&PricePolicy{},
		&Transaction{},
		&Project{},
		&ProjectMember{},
		&ProjectInvite{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// EnsureFreePolicy seeds DefaultFreePolicy when the table has no free row.
// It is run at startup; an error here means the resolver cannot work.
func EnsureFreePolicy(db *gorm.DB) (*PricePolicy, error) {
	var policy PricePolicy
	err := db.Where("category = ?", PolicyFree).Order("id ASC").First(&policy).Error
	if err == nil {
		return &policy, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query free policy: %w", err)
	}

	policy = DefaultFreePolicy
	if err := db.Create(&policy).Error; err != nil {
		return nil, fmt.Errorf("seed free policy: %w", err)
	}
	return &policy, nil
}
