package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/agentboard/internal/config"
	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/events"
	"github.com/tbourn/agentboard/internal/repo"
	"github.com/tbourn/agentboard/internal/services"
	"github.com/tbourn/agentboard/internal/upload"
)

// boardFixture wires real services (sqlite store, on-disk upload processor,
// live event feed) behind the HTTP handlers.
type boardFixture struct {
	router    *gin.Engine
	db        *gorm.DB
	feed      *events.Feed
	uploadDir string
}

func newBoardFixture(t *testing.T, bumpLimit int) *boardFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	ctx := context.Background()
	if _, err := repo.CreateBoard(ctx, db, "b", "general", 4096, bumpLimit, 100); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	if err := repo.CreateAgent(ctx, db, &domain.Agent{ID: "bot-1", Name: "bot-1"}, 100, 1<<30); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	dir := t.TempDir()
	proc, err := upload.NewProcessor(config.UploadConfig{
		Dir:          dir,
		MaxFileSize:  1 << 20,
		MaxDimension: 4096,
		ThumbSize:    200,
		MaxParallel:  2,
	})
	if err != nil {
		t.Fatalf("processor: %v", err)
	}

	feed := events.NewFeed(64)
	h := New(stubAgentSvc{}, services.NewPostService(db, proc, feed), stubClaimSvc{}, feed)

	r := gin.New()
	r.POST("/boards/:dir/threads", h.CreateThread)
	r.POST("/boards/:dir/threads/:id/replies", h.CreateReply)
	r.DELETE("/boards/:dir/posts/:id", h.DeletePost)

	return &boardFixture{router: r, db: db, feed: feed, uploadDir: dir}
}

func (fx *boardFixture) post(t *testing.T, path string, fields map[string]string, fileData []byte) *httptest.ResponseRecorder {
	t.Helper()
	fileField, fileName := "", ""
	if fileData != nil {
		fileField, fileName = "file", "pic.png"
	}
	body, ctype := multipartBody(t, fields, fileField, fileName, fileData)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Agent-ID", "bot-1")
	fx.router.ServeHTTP(w, req)
	return w
}

func decodePost(t *testing.T, w *httptest.ResponseRecorder) domain.Post {
	t.Helper()
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var p domain.Post
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	return p
}

// scenarioPNG encodes a small solid-color PNG; the seed varies the pixels so
// each image hashes differently.
func scenarioPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: seed, G: 128, B: 255 - seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Full write-path walk through the HTTP surface: a thread with a PNG, replies
// up to the bump ceiling with a sage reply on top, then duplicate message and
// duplicate file collisions from another thread.
func TestWritePathScenario(t *testing.T) {
	fx := newBoardFixture(t, 2)
	sub := fx.feed.Subscribe()
	defer fx.feed.Unsubscribe(sub)

	// 1) Thread with a PNG attachment; the stored pair lands on disk.
	thread := decodePost(t, fx.post(t, "/boards/b/threads",
		map[string]string{"subject": "hello", "message": "first thread"}, scenarioPNG(t, 1)))
	if thread.FilePath == nil || thread.ThumbPath == nil {
		t.Fatalf("thread missing attachment columns: %+v", thread)
	}
	for _, rel := range []string{*thread.FilePath, *thread.ThumbPath} {
		if _, err := os.Stat(filepath.Join(fx.uploadDir, rel)); err != nil {
			t.Fatalf("stored asset %s: %v", rel, err)
		}
	}

	// 2) Replies up to the ceiling. With a bump limit of 2 only the first
	// reply bumps; the second reaches the ceiling, and the sage reply never
	// bumps regardless.
	replies := "/boards/b/threads/" + thread.ID + "/replies"
	decodePost(t, fx.post(t, replies, map[string]string{"message": "reply one"}, nil))
	decodePost(t, fx.post(t, replies, map[string]string{"message": "reply two"}, nil))
	saged := decodePost(t, fx.post(t, replies, map[string]string{"message": "quiet reply", "sage": "1"}, nil))
	if !saged.Sage {
		t.Fatalf("sage flag not persisted: %+v", saged)
	}

	// 3) A second thread, then cross-thread collisions: same message, then
	// the same image bytes. Both must name the standing post.
	other := decodePost(t, fx.post(t, "/boards/b/threads",
		map[string]string{"message": "second thread"}, scenarioPNG(t, 2)))
	otherReplies := "/boards/b/threads/" + other.ID + "/replies"

	w := fx.post(t, otherReplies, map[string]string{"message": "first thread"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate message status = %d body=%s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeDuplicateContent || resp.ConflictingPost != thread.ID {
		t.Fatalf("duplicate message resp = %+v, want conflict with %s", resp, thread.ID)
	}

	w = fx.post(t, otherReplies, map[string]string{"message": "same picture again"}, scenarioPNG(t, 1))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate file status = %d body=%s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.ConflictingPost != thread.ID {
		t.Fatalf("duplicate file conflict = %q, want %s", resp.ConflictingPost, thread.ID)
	}

	// The rejected duplicate upload must not leave files behind: only the
	// two thread images remain stored.
	srcs, err := os.ReadDir(filepath.Join(fx.uploadDir, "src"))
	if err != nil {
		t.Fatalf("read src dir: %v", err)
	}
	if len(srcs) != 2 {
		t.Fatalf("stored sources = %d, want 2", len(srcs))
	}

	// 4) Feed accounting for the whole walk: five commits, one bump.
	counts := map[string]int{}
	for drained := false; !drained; {
		select {
		case ev := <-sub.C:
			counts[ev.Type]++
		default:
			drained = true
		}
	}
	if counts[events.TypeNewPost] != 5 {
		t.Fatalf("new_post events = %d, want 5", counts[events.TypeNewPost])
	}
	if counts[events.TypeThreadBump] != 1 {
		t.Fatalf("thread_bump events = %d, want 1", counts[events.TypeThreadBump])
	}

	// 5) Quota reflects the five committed posts.
	q, err := repo.GetQuota(context.Background(), fx.db, "bot-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.PostsUsed != 5 {
		t.Fatalf("posts_used = %d, want 5", q.PostsUsed)
	}
}
