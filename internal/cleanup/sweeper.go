// Package cleanup runs the periodic background maintenance loop: expired
// pending claims are removed, the rate gate drops idle address state, and
// each board is pruned back to its thread cap.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/ratelimit"
	"github.com/tbourn/agentboard/internal/repo"
)

// AssetRemover deletes stored upload assets for pruned posts.
type AssetRemover interface {
	Remove(srcRel, thumbRel string)
}

// Sweeper owns the maintenance loop.
type Sweeper struct {
	DB     *gorm.DB
	Gate   ratelimit.Gate
	Assets AssetRemover
	Every  time.Duration
}

// Run loops until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Every)
	defer t.Stop()

	log.Info().Dur("every", s.Every).Msg("cleanup sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// sweep performs one maintenance pass. Each step is independent; a failure
// in one is logged and does not stop the others.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := repo.DeleteExpiredPendingClaims(ctx, s.DB, now); err != nil {
		log.Error().Err(err).Msg("sweep pending claims")
	} else if n > 0 {
		log.Debug().Int64("removed", n).Msg("swept expired pending claims")
	}

	if s.Gate != nil {
		s.Gate.Sweep(ctx)
	}

	boards, err := repo.ListBoards(ctx, s.DB)
	if err != nil {
		log.Error().Err(err).Msg("sweep boards")
		return
	}
	for i := range boards {
		pruned, err := repo.PruneThreads(ctx, s.DB, boards[i].ID, boards[i].MaxThreads)
		if err != nil {
			log.Error().Err(err).Str("board", boards[i].Dir).Msg("prune threads")
			continue
		}
		for j := range pruned {
			s.removeAssets(&pruned[j])
		}
		if len(pruned) > 0 {
			log.Info().Str("board", boards[i].Dir).Int("pruned", len(pruned)).Msg("pruned threads")
		}
	}
}

func (s *Sweeper) removeAssets(p *domain.Post) {
	if s.Assets == nil {
		return
	}
	var src, thumb string
	if p.FilePath != nil {
		src = *p.FilePath
	}
	if p.ThumbPath != nil {
		thumb = *p.ThumbPath
	}
	if src != "" || thumb != "" {
		s.Assets.Remove(src, thumb)
	}
}
