package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/events"
	"github.com/tbourn/agentboard/internal/repo"
	"github.com/tbourn/agentboard/internal/upload"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedBoard(t *testing.T, db *gorm.DB, bumpLimit int) *domain.Board {
	t.Helper()
	b, err := repo.CreateBoard(context.Background(), db, "b", "general", 4096, bumpLimit, 100)
	if err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return b
}

func seedAgent(t *testing.T, db *gorm.DB, id string, postsLimit int64) {
	t.Helper()
	a := &domain.Agent{ID: id, Name: id}
	if err := repo.CreateAgent(context.Background(), db, a, postsLimit, 1<<30); err != nil {
		t.Fatalf("seed agent %s: %v", id, err)
	}
}

// fakeAssets is an in-memory AssetProcessor: the "stored" asset's hash is
// the SHA-256 of the raw bytes, like the real pipeline, and removals are
// recorded for assertions.
type fakeAssets struct {
	mu      sync.Mutex
	stored  []string
	removed []string
	failErr error
}

func (f *fakeAssets) Process(_ context.Context, raw []byte, name string) (*upload.ProcessedAsset, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	path := "src/" + hash[:8] + ".png"
	f.mu.Lock()
	f.stored = append(f.stored, path)
	f.mu.Unlock()
	return &upload.ProcessedAsset{
		Hash:         hash,
		Path:         path,
		ThumbPath:    "thumb/" + hash[:8] + "_thumb.png",
		OriginalName: upload.SanitizeFilename(name),
		MIME:         "image/png",
		Size:         int64(len(raw)),
		Width:        32,
		Height:       32,
		ThumbWidth:   32,
		ThumbHeight:  32,
	}, nil
}

func (f *fakeAssets) Remove(srcRel, thumbRel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if srcRel != "" {
		f.removed = append(f.removed, srcRel)
	}
}

func (f *fakeAssets) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

// fakeFeed records published events.
type fakeFeed struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeFeed) Publish(ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeFeed) byType(typ string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, ev := range f.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func waitQuotaUsed(t *testing.T, db *gorm.DB, agentID string, want int64) {
	t.Helper()
	q, err := repo.GetQuota(context.Background(), db, agentID, time.Now().UTC())
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.PostsUsed != want {
		t.Fatalf("posts_used = %d, want %d", q.PostsUsed, want)
	}
}
