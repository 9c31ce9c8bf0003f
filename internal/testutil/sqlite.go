// Package testutil opens isolated in-memory databases for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
)

// NewDB opens a private shared-cache in-memory SQLite database with every model migrated.
// A single connection keeps transactional tests deterministic.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:craftstock_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate models: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// NewClient wraps NewDB in a db.Client with a fast retry policy.
func NewClient(t *testing.T, opts ...db.Option) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := NewDB(t)
	base := []db.Option{db.WithTxPolicy(db.TxPolicy{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RetryBase:  time.Millisecond,
		RetryCap:   5 * time.Millisecond,
	})}
	return db.FromConn(conn, append(base, opts...)...), conn
}
