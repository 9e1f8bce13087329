// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Board model.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
)

// CreateBoard inserts a new board row. Returns ErrDuplicate when the dir is
// already taken.
func CreateBoard(ctx context.Context, db *gorm.DB, dir, name string, maxMessageLen, bumpLimit, maxThreads int) (*domain.Board, error) {
	b := &domain.Board{
		Dir:           dir,
		Name:          name,
		MaxMessageLen: maxMessageLen,
		BumpLimit:     bumpLimit,
		MaxThreads:    maxThreads,
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return b, nil
}

// GetBoardByDir fetches a board by its directory name, or ErrNotFound.
func GetBoardByDir(ctx context.Context, db *gorm.DB, dir string) (*domain.Board, error) {
	var b domain.Board
	err := db.WithContext(ctx).Where("dir = ?", dir).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoards returns all boards ordered by dir.
func ListBoards(ctx context.Context, db *gorm.DB) ([]domain.Board, error) {
	var out []domain.Board
	err := db.WithContext(ctx).Order("dir ASC").Find(&out).Error
	return out, err
}
