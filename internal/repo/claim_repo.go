// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for pending
// identity claims.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
)

// CreatePendingClaim inserts a new pending claim. The state token is
// uniquely indexed; a collision (vanishingly unlikely with 32 random bytes)
// surfaces as ErrDuplicate.
func CreatePendingClaim(ctx context.Context, db *gorm.DB, pc *domain.PendingClaim) error {
	if err := db.WithContext(ctx).Create(pc).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPendingClaimByState fetches the unexpired claim for a state token, or
// ErrNotFound. Expired claims are invisible even before the sweep removes
// them.
func GetPendingClaimByState(ctx context.Context, db *gorm.DB, state string, now time.Time) (*domain.PendingClaim, error) {
	var pc domain.PendingClaim
	err := db.WithContext(ctx).
		Where("state = ? AND expires_at > ?", state, now).
		First(&pc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// DeletePendingClaim removes a consumed claim. Each claim is usable once;
// the handler deletes it on both success and terminal failure.
func DeletePendingClaim(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.PendingClaim{}).Error
}

// DeleteExpiredPendingClaims removes claims whose expiry has passed and
// returns how many were swept.
func DeleteExpiredPendingClaims(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.PendingClaim{})
	return res.RowsAffected, res.Error
}
