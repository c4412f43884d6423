package middleware

import (
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:mw_" + name + "?mode=memory&cache=shared",
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

func createUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", MobilePhone: "1390000" + name, Password: "x"}
	require.NoError(t, db.Create(u).Error)
	return u
}

// asUser stands in for AuthRequired.
func asUser(id uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserID, id)
		c.Next()
	}
}
