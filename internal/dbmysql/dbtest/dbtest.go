// Package dbtest opens a migrated MySQL schema for integration tests. Tests
// using it run only when MYSQL_INTEGRATION is set (docker compose up mysql).
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

// Open skips t unless MYSQL_INTEGRATION is set, then returns a pool on a
// freshly migrated amplifi_test schema. Tables are dropped on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	if os.Getenv("MYSQL_INTEGRATION") == "" {
		t.Skip("MYSQL_INTEGRATION not set")
	}
	cfg := config.Default()
	for env, dst := range map[string]*string{
		"MYSQL_HOST":     &cfg.Database.Host,
		"MYSQL_PORT":     &cfg.Database.Port,
		"MYSQL_USERNAME": &cfg.Database.Username,
		"MYSQL_PASSWORD": &cfg.Database.Password,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	cfg.Database.DatabaseName = "amplifi_test"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := dbmysql.NewMySQL(ctx, cfg)
	require.NoError(t, err)

	models := dbmysql.Models()
	require.NoError(t, db.Migrator().DropTable(models...))
	require.NoError(t, dbmysql.AutoMigrate(db))
	t.Cleanup(func() {
		_ = db.Migrator().DropTable(models...)
		_ = dbmysql.Close(db)
	})
	return db
}
