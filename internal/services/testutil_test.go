package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory sqlite database with the schema and
// the free policy in place.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + name + "?mode=memory&cache=shared",
	}, gormlogger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	_, err = models.EnsureFreePolicy(db)
	require.NoError(t, err)
	return db
}

// newFileTestDB is newTestDB on a file, for tests where several connections
// must contend for the same rows.
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "tracer.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, gormlogger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	_, err = models.EnsureFreePolicy(db)
	require.NoError(t, err)
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func createUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:    name,
		Email:       name + "@example.com",
		MobilePhone: "1380000" + name,
		Password:    "x",
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func createPaidPolicy(t *testing.T, db *gorm.DB, title string, price int64, members int) *models.PricePolicy {
	t.Helper()
	p := &models.PricePolicy{
		Category:       models.PolicyPaid,
		Title:          title,
		Price:          price,
		ProjectNum:     20,
		ProjectMembers: members,
		ProjectSpace:   50,
		PerFileSize:    100,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func createProject(t *testing.T, db *gorm.DB, creator *models.User, name string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name, CreatorID: creator.ID, JoinCount: 1, Color: 1}
	require.NoError(t, db.Create(p).Error)
	return p
}

// addMember inserts a member row and bumps join_count the way Redeem does.
func addMember(t *testing.T, db *gorm.DB, project *models.Project, user *models.User) {
	t.Helper()
	require.NoError(t, db.Create(&models.ProjectMember{ProjectID: project.ID, UserID: user.ID}).Error)
	require.NoError(t, db.Model(project).Update("join_count", gorm.Expr("join_count + 1")).Error)
}

func paidTransaction(t *testing.T, db *gorm.DB, user *models.User, policy *models.PricePolicy, amount int64, start time.Time, end *time.Time, created time.Time) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		Status:        models.TransactionPaid,
		OrderID:       fmt.Sprintf("%s-%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), user.Username, created.UnixNano()),
		UserID:        user.ID,
		PricePolicyID: policy.ID,
		Count:         1,
		Amount:        amount,
		StartAt:       &start,
		EndAt:         end,
		CreatedAt:     created,
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

func ptr[T any](v T) *T { return &v }

var bg = context.Background()
