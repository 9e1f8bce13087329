package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
)

func seedBoard(t *testing.T, db *gorm.DB) *domain.Board {
	t.Helper()
	b, err := CreateBoard(context.Background(), db, "b", "general", 4096, 3, 5)
	if err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return b
}

func seedAgent(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	a := &domain.Agent{ID: id, Name: id}
	if err := CreateAgent(context.Background(), db, a, 1000, 1<<30); err != nil {
		t.Fatalf("seed agent %s: %v", id, err)
	}
}

func msgHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newThread(boardID uint, agentID, message string) *domain.Post {
	now := time.Now().UTC()
	return &domain.Post{
		ID:          uuid.NewString(),
		BoardID:     boardID,
		AgentID:     agentID,
		Message:     message,
		MessageHash: msgHash(message),
		BumpedAt:    now,
		CreatedAt:   now,
	}
}

func newReply(boardID uint, parentID, agentID, message string, sage bool) *domain.Post {
	p := newThread(boardID, agentID, message)
	p.ParentID = &parentID
	p.Sage = sage
	return p
}

func TestCreateThread_DuplicateMessageHashRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "agent-1")

	first := newThread(board.ID, "agent-1", "identical words")
	if err := CreateThread(ctx, db, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := newThread(board.ID, "agent-1", "identical words")
	if err := CreateThread(ctx, db, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert err = %v, want ErrDuplicate", err)
	}

	winner, err := FindPostByMessageHash(ctx, db, msgHash("identical words"))
	if err != nil {
		t.Fatalf("find winner: %v", err)
	}
	if winner.ID != first.ID {
		t.Fatalf("winner = %s, want the first insert %s", winner.ID, first.ID)
	}
}

func TestCreateThread_DuplicateFileHashRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "agent-1")

	fh := msgHash("same-image-bytes")
	first := newThread(board.ID, "agent-1", "message one")
	first.FileHash = &fh
	if err := CreateThread(ctx, db, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := newThread(board.ID, "agent-1", "message two")
	second.FileHash = &fh
	if err := CreateThread(ctx, db, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert err = %v, want ErrDuplicate", err)
	}
}

func TestCreateThread_ConcurrentDuplicateSingleWinner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "agent-1")

	const racers = 4
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = CreateThread(ctx, db, newThread(board.ID, "agent-1", "raced content"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrDuplicate):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestCreateReply_BumpCeiling(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db) // bump limit 3
	seedAgent(t, db, "agent-1")

	thread := newThread(board.ID, "agent-1", "op")
	if err := CreateThread(ctx, db, thread); err != nil {
		t.Fatalf("thread: %v", err)
	}

	// Replies 1..3 bump; the limit is reached at 3, so reply 4 must not.
	for i := 1; i <= 3; i++ {
		bumped, err := CreateReply(ctx, db, newReply(board.ID, thread.ID, "agent-1", fmt.Sprintf("reply %d", i), false), board.BumpLimit)
		if err != nil {
			t.Fatalf("reply %d: %v", i, err)
		}
		want := i < 3
		if bumped != want {
			t.Fatalf("reply %d bumped = %v, want %v", i, bumped, want)
		}
	}

	before, _ := GetPost(ctx, db, thread.ID)
	bumped, err := CreateReply(ctx, db, newReply(board.ID, thread.ID, "agent-1", "reply past the ceiling", false), board.BumpLimit)
	if err != nil {
		t.Fatalf("reply 4: %v", err)
	}
	if bumped {
		t.Fatal("reply past the ceiling must not bump")
	}
	after, _ := GetPost(ctx, db, thread.ID)
	if !after.BumpedAt.Equal(before.BumpedAt) {
		t.Fatal("bumped_at moved despite the ceiling")
	}
}

func TestCreateReply_SageNeverBumps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "agent-1")

	thread := newThread(board.ID, "agent-1", "op message")
	if err := CreateThread(ctx, db, thread); err != nil {
		t.Fatalf("thread: %v", err)
	}

	bumped, err := CreateReply(ctx, db, newReply(board.ID, thread.ID, "agent-1", "quiet reply", true), board.BumpLimit)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if bumped {
		t.Fatal("saged reply must not bump")
	}
}

func TestCreateReply_RejectsReplyToReplyAndLocked(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "agent-1")

	thread := newThread(board.ID, "agent-1", "op here")
	if err := CreateThread(ctx, db, thread); err != nil {
		t.Fatalf("thread: %v", err)
	}
	reply := newReply(board.ID, thread.ID, "agent-1", "the reply", false)
	if _, err := CreateReply(ctx, db, reply, board.BumpLimit); err != nil {
		t.Fatalf("reply: %v", err)
	}

	// Reply-to-reply: parent exists but is not a thread.
	if _, err := CreateReply(ctx, db, newReply(board.ID, reply.ID, "agent-1", "nested", false), board.BumpLimit); !errors.Is(err, ErrReplyToReply) {
		t.Fatalf("reply-to-reply err = %v, want ErrReplyToReply", err)
	}

	// Unknown parent.
	if _, err := CreateReply(ctx, db, newReply(board.ID, uuid.NewString(), "agent-1", "orphan", false), board.BumpLimit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing parent err = %v, want ErrNotFound", err)
	}

	// Locked thread.
	db.Model(&domain.Post{}).Where("id = ?", thread.ID).Update("locked", true)
	if _, err := CreateReply(ctx, db, newReply(board.ID, thread.ID, "agent-1", "too late", false), board.BumpLimit); !errors.Is(err, ErrThreadLocked) {
		t.Fatalf("locked err = %v, want ErrThreadLocked", err)
	}
}

func TestDeletePostOwned(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db)
	seedAgent(t, db, "owner")
	seedAgent(t, db, "other")

	thread := newThread(board.ID, "owner", "mine to delete")
	if err := CreateThread(ctx, db, thread); err != nil {
		t.Fatalf("thread: %v", err)
	}
	reply := newReply(board.ID, thread.ID, "other", "someone else's reply", false)
	if _, err := CreateReply(ctx, db, reply, board.BumpLimit); err != nil {
		t.Fatalf("reply: %v", err)
	}

	// Non-owner cannot delete.
	if _, err := DeletePostOwned(ctx, db, thread.ID, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrNotFound", err)
	}

	// Owner delete cascades to replies.
	if _, err := DeletePostOwned(ctx, db, thread.ID, "owner"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := GetPost(ctx, db, thread.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("thread should be gone")
	}
	if _, err := GetPost(ctx, db, reply.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("reply should be gone with its thread")
	}

	// Deleted content's hash is free again.
	if err := CreateThread(ctx, db, newThread(board.ID, "owner", "mine to delete")); err != nil {
		t.Fatalf("reinsert after delete: %v", err)
	}
}

func TestPruneThreads(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := seedBoard(t, db) // max 5 threads
	seedAgent(t, db, "agent-1")

	// 7 threads with ascending bump times; thread 0 is stickied.
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 7; i++ {
		p := newThread(board.ID, "agent-1", fmt.Sprintf("thread %d", i))
		p.BumpedAt = base.Add(time.Duration(i) * time.Minute)
		p.Stickied = i == 0
		if err := CreateThread(ctx, db, p); err != nil {
			t.Fatalf("thread %d: %v", i, err)
		}
		ids = append(ids, p.ID)
	}

	pruned, err := PruneThreads(ctx, db, board.ID, board.MaxThreads)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(pruned) != 2 {
		t.Fatalf("pruned %d posts, want 2", len(pruned))
	}

	// The stickied thread survives even though it has the oldest bump;
	// the two oldest unpinned threads (1 and 2) go.
	if _, err := GetPost(ctx, db, ids[0]); err != nil {
		t.Fatal("stickied thread must survive pruning")
	}
	for _, i := range []int{1, 2} {
		if _, err := GetPost(ctx, db, ids[i]); !errors.Is(err, ErrNotFound) {
			t.Fatalf("thread %d should have been pruned", i)
		}
	}
	n, _ := CountThreads(ctx, db, board.ID)
	if n != 5 {
		t.Fatalf("threads after prune = %d, want 5", n)
	}
}
