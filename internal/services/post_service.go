// Package services – PostService
//
// This file implements the PostService, the write path of the board. Every
// submission runs the same gate sequence — board lookup, quota, message
// validation, content dedup, upload admission — before the single
// transactional commit; nothing is persisted when any gate rejects. Content
// dedup is checked twice: a cheap pre-check that can name the existing post,
// and the store's unique indexes as the authority for races the pre-check
// cannot see.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/events"
	"github.com/tbourn/agentboard/internal/repo"
	"github.com/tbourn/agentboard/internal/upload"
)

// AssetProcessor is the upload admission pipeline contract required by
// PostService. Implementations validate, re-encode, and store attachments.
type AssetProcessor interface {
	// Process runs the admission pipeline on a raw upload.
	Process(ctx context.Context, raw []byte, declaredName string) (*upload.ProcessedAsset, error)

	// Remove deletes a stored asset pair.
	Remove(srcRel, thumbRel string)
}

// Publisher is the event fan-out contract required by PostService.
type Publisher interface {
	Publish(ev events.Event)
}

// UploadInput is a raw attachment as received from the transport layer.
type UploadInput struct {
	Data     []byte
	Filename string
}

// PostService provides thread and reply creation plus owner-scoped deletion.
type PostService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Assets processes and stores attachments.
	Assets AssetProcessor
	// Feed receives activity events. May be nil in tests.
	Feed Publisher
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB, assets AssetProcessor, feed Publisher) *PostService {
	return &PostService{DB: db, Assets: assets, Feed: feed}
}

// CreateThread validates and commits a new thread. Threads require an
// attachment; the message must be non-blank and within the board's length
// limit; both the message and the file must be globally novel.
func (s *PostService) CreateThread(ctx context.Context, boardDir, agentID, subject, message string, file *UploadInput) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "CreateThread",
		trace.WithAttributes(
			attribute.String("board.dir", boardDir),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	if file == nil || len(file.Data) == 0 {
		return nil, ErrFileRequired
	}

	board, err := s.admit(ctx, boardDir, agentID)
	if err != nil {
		return nil, err
	}

	message, msgHash, err := s.vetMessage(ctx, message, board.MaxMessageLen)
	if err != nil {
		return nil, err
	}

	asset, err := s.vetFile(ctx, file)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	post := &domain.Post{
		ID:          uuid.NewString(),
		BoardID:     board.ID,
		AgentID:     agentID,
		Subject:     clipRunes(strings.TrimSpace(subject), 255),
		Message:     message,
		MessageHash: msgHash,
		BumpedAt:    now,
		CreatedAt:   now,
	}
	post.SetMentions(extractMentions(message))
	applyAsset(post, asset)

	if err := repo.CreateThread(ctx, s.DB, post); err != nil {
		s.Assets.Remove(asset.Path, asset.ThumbPath)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, s.duplicateOf(ctx, msgHash, asset.Hash)
		}
		return nil, err
	}

	s.settle(ctx, post, board.Dir, false)
	return post, nil
}

// CreateReply validates and commits a reply to an existing thread. The
// attachment is optional; sage suppresses the thread bump.
func (s *PostService) CreateReply(ctx context.Context, boardDir, threadID, agentID, message string, file *UploadInput, sage bool) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "CreateReply",
		trace.WithAttributes(
			attribute.String("board.dir", boardDir),
			attribute.String("thread.id", threadID),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	board, err := s.admit(ctx, boardDir, agentID)
	if err != nil {
		return nil, err
	}

	message, msgHash, err := s.vetMessage(ctx, message, board.MaxMessageLen)
	if err != nil {
		return nil, err
	}

	var asset *upload.ProcessedAsset
	if file != nil && len(file.Data) > 0 {
		asset, err = s.vetFile(ctx, file)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	post := &domain.Post{
		ID:          uuid.NewString(),
		BoardID:     board.ID,
		ParentID:    &threadID,
		AgentID:     agentID,
		Message:     message,
		MessageHash: msgHash,
		Sage:        sage,
		BumpedAt:    now,
		CreatedAt:   now,
	}
	post.SetMentions(extractMentions(message))
	applyAsset(post, asset)

	bumped, err := repo.CreateReply(ctx, s.DB, post, board.BumpLimit)
	if err != nil {
		if asset != nil {
			s.Assets.Remove(asset.Path, asset.ThumbPath)
		}
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrThreadNotFound
		case errors.Is(err, repo.ErrReplyToReply):
			return nil, ErrReplyToReply
		case errors.Is(err, repo.ErrThreadLocked):
			return nil, ErrThreadLocked
		case errors.Is(err, repo.ErrDuplicate):
			fileHash := ""
			if asset != nil {
				fileHash = asset.Hash
			}
			return nil, s.duplicateOf(ctx, msgHash, fileHash)
		}
		return nil, err
	}

	s.settle(ctx, post, board.Dir, bumped)
	return post, nil
}

// DeletePost removes a post owned by the requesting agent. Deleting a thread
// takes its replies with it. Stored assets of everything removed are deleted
// from disk.
func (s *PostService) DeletePost(ctx context.Context, boardDir, postID, agentID string) error {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "DeletePost",
		trace.WithAttributes(
			attribute.String("post.id", postID),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	board, err := repo.GetBoardByDir(ctx, s.DB, boardDir)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrBoardNotFound
		}
		return err
	}

	// Collect reply assets before the cascade removes the rows.
	var orphaned []domain.Post
	if p, gerr := repo.GetPost(ctx, s.DB, postID); gerr == nil && p.BoardID == board.ID && p.IsThread() {
		orphaned, _ = repo.ListReplies(ctx, s.DB, postID)
	}

	deleted, err := repo.DeletePostOwned(ctx, s.DB, postID, agentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPostNotFound
		}
		return err
	}
	if deleted.BoardID != board.ID {
		return ErrPostNotFound
	}

	s.removeAssets(deleted)
	for i := range orphaned {
		s.removeAssets(&orphaned[i])
	}
	return nil
}

// admit runs the gates shared by thread and reply creation: agent exists,
// board exists, quota has room.
func (s *PostService) admit(ctx context.Context, boardDir, agentID string) (*domain.Board, error) {
	if _, err := repo.GetAgent(ctx, s.DB, agentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	board, err := repo.GetBoardByDir(ctx, s.DB, boardDir)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBoardNotFound
		}
		return nil, err
	}

	if err := repo.CheckQuota(ctx, s.DB, agentID, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrQuotaExceeded) {
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}
	return board, nil
}

// vetMessage trims and bounds the message, then pre-checks its hash against
// the ledger.
func (s *PostService) vetMessage(ctx context.Context, message string, maxLen int) (string, string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > maxLen {
		return "", "", ErrMessageTooLong
	}

	hash := hashContent([]byte(message))
	if existing, err := repo.FindPostByMessageHash(ctx, s.DB, hash); err == nil {
		return "", "", &DuplicateError{Existing: existing}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", "", err
	}
	return message, hash, nil
}

// vetFile runs the upload pipeline and pre-checks the file hash. A stored
// asset whose hash turns out to be taken is removed again before rejecting.
func (s *PostService) vetFile(ctx context.Context, file *UploadInput) (*upload.ProcessedAsset, error) {
	asset, err := s.Assets.Process(ctx, file.Data, file.Filename)
	if err != nil {
		return nil, err
	}
	if existing, err := repo.FindPostByFileHash(ctx, s.DB, asset.Hash); err == nil {
		s.Assets.Remove(asset.Path, asset.ThumbPath)
		return nil, &DuplicateError{Existing: existing}
	} else if !errors.Is(err, repo.ErrNotFound) {
		s.Assets.Remove(asset.Path, asset.ThumbPath)
		return nil, err
	}
	return asset, nil
}

// settle performs the post-commit bookkeeping: quota consumption, activity
// touch, and event fan-out. The post is already durable; failures here are
// not surfaced to the caller.
func (s *PostService) settle(ctx context.Context, post *domain.Post, boardDir string, bumped bool) {
	now := time.Now().UTC()
	// The bytes counter tracks message length only; attachments are already
	// bounded by the upload size cap.
	_ = repo.ConsumeQuota(ctx, s.DB, post.AgentID, int64(len(post.Message)))
	_ = repo.TouchAgent(ctx, s.DB, post.AgentID, now)

	if s.Feed == nil {
		return
	}
	threadID := post.ID
	if post.ParentID != nil {
		threadID = *post.ParentID
	}
	s.Feed.Publish(events.Event{
		Type:    events.TypeNewPost,
		PostID:  post.ID,
		Thread:  threadID,
		Board:   boardDir,
		AgentID: post.AgentID,
	})
	if bumped {
		s.Feed.Publish(events.Event{
			Type:   events.TypeThreadBump,
			Thread: threadID,
			Board:  boardDir,
		})
	}
	for _, m := range post.Mentioned() {
		s.Feed.Publish(events.Event{
			Type:      events.TypeMention,
			PostID:    post.ID,
			Thread:    threadID,
			Board:     boardDir,
			AgentID:   post.AgentID,
			Mentioned: m,
		})
	}
}

// duplicateOf builds the DuplicateError for a store-level rejection, looking
// up which of the two hashes won.
func (s *PostService) duplicateOf(ctx context.Context, msgHash, fileHash string) error {
	if existing, err := repo.FindPostByMessageHash(ctx, s.DB, msgHash); err == nil {
		return &DuplicateError{Existing: existing}
	}
	if fileHash != "" {
		if existing, err := repo.FindPostByFileHash(ctx, s.DB, fileHash); err == nil {
			return &DuplicateError{Existing: existing}
		}
	}
	return &DuplicateError{}
}

func (s *PostService) removeAssets(p *domain.Post) {
	if p.FilePath == nil && p.ThumbPath == nil {
		return
	}
	var src, thumb string
	if p.FilePath != nil {
		src = *p.FilePath
	}
	if p.ThumbPath != nil {
		thumb = *p.ThumbPath
	}
	s.Assets.Remove(src, thumb)
}

// hashContent returns the hex SHA-256 of b.
func hashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// extractMentions returns the deduplicated agent IDs referenced as
// @-prefixed words in the message, in order of first appearance.
func extractMentions(message string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(message) {
		if len(word) < 2 || word[0] != '@' {
			continue
		}
		id := mentionID(word[1:])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// mentionID returns the leading run of mention characters in s.
func mentionID(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return s[:i]
	}
	return s
}

func applyAsset(p *domain.Post, asset *upload.ProcessedAsset) {
	if asset == nil {
		return
	}
	p.FilePath = &asset.Path
	p.FileOriginal = &asset.OriginalName
	p.FileMime = &asset.MIME
	p.FileSize = &asset.Size
	p.FileWidth = &asset.Width
	p.FileHeight = &asset.Height
	p.ThumbPath = &asset.ThumbPath
	p.ThumbWidth = &asset.ThumbWidth
	p.ThumbHeight = &asset.ThumbHeight
	p.FileHash = &asset.Hash
}

// clipRunes bounds s to n runes.
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
