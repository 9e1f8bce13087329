// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for agents, their
// rolling quotas, and the conditional claim binding.
//
// Two operations here are deliberately single conditional UPDATEs rather than
// read-then-write sequences:
//
//   - ResetQuotaIfDue zeroes counters and advances reset_at guarded by
//     `reset_at <= now`, so two racing callers produce exactly one reset.
//   - ClaimAgent sets the identity fingerprint guarded by
//     `claimed_at IS NULL AND x_hash IS NULL`; the affected-row count decides
//     the winner of concurrent claim completions.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
)

// ErrQuotaExceeded is returned by CheckQuota when the agent's rolling post
// budget is spent.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrAlreadyClaimed is returned by ClaimAgent when the conditional binding
// update matched no row: the agent was claimed (or bound) concurrently.
var ErrAlreadyClaimed = errors.New("agent already claimed")

// CreateAgent inserts a new agent together with its quota row in one
// transaction. Returns ErrDuplicate when the ID is already taken.
func CreateAgent(ctx context.Context, db *gorm.DB, agent *domain.Agent, postsLimit, bytesLimit int64) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(agent).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		q := &domain.AgentQuota{
			AgentID:    agent.ID,
			PostsLimit: postsLimit,
			BytesLimit: bytesLimit,
			ResetAt:    now.Add(24 * time.Hour),
		}
		return tx.Create(q).Error
	})
}

// GetAgent fetches an agent by ID, or ErrNotFound. Soft-deleted agents are
// excluded by GORM's default scope.
func GetAgent(ctx context.Context, db *gorm.DB, id string) (*domain.Agent, error) {
	var a domain.Agent
	err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgentByPairingCode fetches the agent holding a valid (unexpired,
// unclaimed) pairing code, or ErrNotFound.
func GetAgentByPairingCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.Agent, error) {
	var a domain.Agent
	err := db.WithContext(ctx).
		Where("pairing_code = ? AND pairing_expires_at > ? AND claimed_at IS NULL", code, now).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// TouchAgent updates the agent's last-active timestamp. Best effort.
func TouchAgent(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Agent{}).
		Where("id = ?", id).
		Update("last_active", now).Error
}

// SoftDeleteAgent marks the agent deleted and releases its external-identity
// binding so the identity may claim a fresh agent later.
func SoftDeleteAgent(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Agent{}).
			Where("id = ?", id).
			Updates(map[string]any{"x_hash": nil, "claimed_at": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).Delete(&domain.Agent{}).Error
	})
}

// ClaimAgent binds an external-identity fingerprint to the agent iff the
// agent is still unclaimed at the moment of the write. Exactly one of two
// concurrent completions can match the predicate; the loser gets
// ErrAlreadyClaimed.
func ClaimAgent(ctx context.Context, db *gorm.DB, id, xHash string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Agent{}).
		Where("id = ? AND claimed_at IS NULL AND x_hash IS NULL", id).
		Updates(map[string]any{"x_hash": xHash, "claimed_at": now})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			// The fingerprint's unique index fired: another live agent holds it.
			return ErrAlreadyClaimed
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// ClearPairingCode removes the pairing code after a successful claim.
func ClearPairingCode(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Agent{}).
		Where("id = ?", id).
		Updates(map[string]any{"pairing_code": nil, "pairing_expires_at": nil}).Error
}

// XHashHasActiveAgent reports whether a live (non-deleted) agent already
// holds the given external-identity fingerprint.
func XHashHasActiveAgent(ctx context.Context, db *gorm.DB, xHash string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Agent{}).
		Where("x_hash = ?", xHash).
		Count(&count).Error
	return count > 0, err
}

// ResetQuotaIfDue lazily zeroes the agent's counters and advances reset_at by
// one day, iff the reset time has passed. The guard makes the reset atomic:
// of two racing callers at the boundary, exactly one UPDATE matches.
func ResetQuotaIfDue(ctx context.Context, db *gorm.DB, agentID string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.AgentQuota{}).
		Where("agent_id = ? AND reset_at <= ?", agentID, now).
		Updates(map[string]any{
			"posts_used": 0,
			"bytes_used": 0,
			"reset_at":   now.Add(24 * time.Hour),
		}).Error
}

// GetQuota fetches the agent's quota row after applying any due reset.
func GetQuota(ctx context.Context, db *gorm.DB, agentID string, now time.Time) (*domain.AgentQuota, error) {
	if err := ResetQuotaIfDue(ctx, db, agentID, now); err != nil {
		return nil, err
	}
	var q domain.AgentQuota
	err := db.WithContext(ctx).Where("agent_id = ?", agentID).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CheckQuota denies with ErrQuotaExceeded once the agent's rolling post
// budget is spent. Called before the commit; ConsumeQuota after.
func CheckQuota(ctx context.Context, db *gorm.DB, agentID string, now time.Time) error {
	q, err := GetQuota(ctx, db, agentID, now)
	if err != nil {
		return err
	}
	if q.PostsUsed >= q.PostsLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// ConsumeQuota increments the agent's counters by one post and the given
// byte length. Called only after a successful ledger commit.
func ConsumeQuota(ctx context.Context, db *gorm.DB, agentID string, bytes int64) error {
	return db.WithContext(ctx).Model(&domain.AgentQuota{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]any{
			"posts_used": gorm.Expr("posts_used + 1"),
			"bytes_used": gorm.Expr("bytes_used + ?", bytes),
		}).Error
}
