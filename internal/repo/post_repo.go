// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for posts: thread
// and reply creation, the content-dedup lookups, owned deletion, and thread
// pruning.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
)

// ErrThreadLocked is returned by CreateReply when the parent thread rejects
// new replies.
var ErrThreadLocked = errors.New("thread locked")

// ErrReplyToReply is returned by CreateReply when the named parent exists
// but is itself a reply.
var ErrReplyToReply = errors.New("cannot reply to a reply")

// CreateThread inserts a new thread atomically. The unique indexes on
// message_hash and file_hash may reject it; that surfaces as ErrDuplicate.
func CreateThread(ctx context.Context, db *gorm.DB, p *domain.Post) error {
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CreateReply inserts a reply and conditionally bumps the parent thread,
// inside one transaction. The reply count is taken inside the transaction so
// the bump ceiling holds under concurrent replies: a thread at its limit is
// never bumped, even by two simultaneous writers racing past the ceiling.
//
// The bump happens iff the reply is not saged AND the thread's reply count,
// taken after this insert, is still below the board's bump limit. The reply
// that reaches the limit therefore no longer bumps. The returned flag
// reports whether the parent was bumped.
func CreateReply(ctx context.Context, db *gorm.DB, p *domain.Post, bumpLimit int) (bool, error) {
	bumped := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent domain.Post
		err := tx.Where("id = ?", *p.ParentID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !parent.IsThread() {
			return ErrReplyToReply
		}
		if parent.Locked {
			return ErrThreadLocked
		}

		if err := tx.Create(p).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}

		var replies int64
		if err := tx.Model(&domain.Post{}).
			Where("parent_id = ?", parent.ID).
			Count(&replies).Error; err != nil {
			return err
		}

		if !p.Sage && replies < int64(bumpLimit) {
			if err := tx.Model(&domain.Post{}).
				Where("id = ?", parent.ID).
				Update("bumped_at", p.CreatedAt).Error; err != nil {
				return err
			}
			bumped = true
		}
		return nil
	})
	if err != nil {
		bumped = false
	}
	return bumped, err
}

// FindPostByMessageHash returns the post holding the given message hash, or
// ErrNotFound. Used by the pre-check to point a rejected duplicate at its
// winning post.
func FindPostByMessageHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).Where("message_hash = ?", hash).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPostByFileHash returns the post holding the given file hash, or
// ErrNotFound.
func FindPostByFileHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).Where("file_hash = ?", hash).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPost fetches a post by ID, or ErrNotFound.
func GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePostOwned deletes a post iff it belongs to the given agent. Deleting
// a thread cascades to its replies. Returns the deleted post (for asset
// cleanup and event emission) or ErrNotFound when no owned row matched.
func DeletePostOwned(ctx context.Context, db *gorm.DB, id, agentID string) (*domain.Post, error) {
	var p domain.Post
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e := tx.Where("id = ? AND agent_id = ?", id, agentID).First(&p).Error
		if errors.Is(e, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if e != nil {
			return e
		}
		if p.IsThread() {
			if e := tx.Where("parent_id = ?", p.ID).Delete(&domain.Post{}).Error; e != nil {
				return e
			}
		}
		res := tx.Where("id = ? AND agent_id = ?", id, agentID).Delete(&domain.Post{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListThreads returns a board's threads, stickies first, then bump order,
// newest first.
func ListThreads(ctx context.Context, db *gorm.DB, boardID uint, limit int) ([]domain.Post, error) {
	var out []domain.Post
	q := db.WithContext(ctx).
		Where("board_id = ? AND parent_id IS NULL", boardID).
		Order("stickied DESC, bumped_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListReplies returns a thread's replies in chronological order.
func ListReplies(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Post, error) {
	var out []domain.Post
	err := db.WithContext(ctx).
		Where("parent_id = ?", threadID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// CountThreads returns the number of live threads on a board.
func CountThreads(ctx context.Context, db *gorm.DB, boardID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Post{}).
		Where("board_id = ? AND parent_id IS NULL", boardID).
		Count(&n).Error
	return n, err
}

// PruneThreads removes the oldest-bumped, never-stickied threads (and their
// replies) beyond the board's thread cap. Returns every pruned post, replies
// included, so the caller can delete their stored assets.
func PruneThreads(ctx context.Context, db *gorm.DB, boardID uint, maxThreads int) ([]domain.Post, error) {
	var victims []domain.Post
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if e := tx.Model(&domain.Post{}).
			Where("board_id = ? AND parent_id IS NULL", boardID).
			Count(&n).Error; e != nil {
			return e
		}
		excess := n - int64(maxThreads)
		if excess <= 0 {
			return nil
		}
		var threads []domain.Post
		if e := tx.
			Where("board_id = ? AND parent_id IS NULL AND stickied = ?", boardID, false).
			Order("bumped_at ASC").
			Limit(int(excess)).
			Find(&threads).Error; e != nil {
			return e
		}
		for i := range threads {
			var replies []domain.Post
			if e := tx.Where("parent_id = ?", threads[i].ID).Find(&replies).Error; e != nil {
				return e
			}
			if e := tx.Where("parent_id = ?", threads[i].ID).Delete(&domain.Post{}).Error; e != nil {
				return e
			}
			if e := tx.Where("id = ?", threads[i].ID).Delete(&domain.Post{}).Error; e != nil {
				return e
			}
			victims = append(victims, threads[i])
			victims = append(victims, replies...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return victims, nil
}
