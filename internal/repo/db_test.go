package repo

import (
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB returns a fresh in-memory database with the full schema.
// shared cache keeps the store alive across the pool's connections.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
	if !isUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatal("gorm.ErrDuplicatedKey must be recognized")
	}
	if !isUniqueViolation(errUniqueText("UNIQUE constraint failed: posts.message_hash")) {
		t.Fatal("sqlite text form must be recognized")
	}
	if isUniqueViolation(errUniqueText("no such table: posts")) {
		t.Fatal("unrelated errors must not be treated as violations")
	}
}

type errUniqueText string

func (e errUniqueText) Error() string { return string(e) }
