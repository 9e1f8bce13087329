// Package services – ClaimService
//
// This file implements the ClaimService, which binds a verified external
// identity to exactly one live agent. The flow is pairing-code driven: the
// code proves access to the registering agent, the external OAuth leg proves
// the human identity, and a single conditional update in the store decides
// races between concurrent completions. Only a salted fingerprint of the
// external account is ever persisted.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/config"
	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/repo"
	"github.com/tbourn/agentboard/internal/xauth"
)

// ClaimService drives the external identity-verification flow.
type ClaimService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Exchanger performs the external code-for-identity exchange.
	Exchanger xauth.Exchanger
	// Cfg carries the provider credentials and TTLs.
	Cfg config.ClaimConfig
}

// NewClaimService constructs a ClaimService. When the flow is enabled and no
// exchanger is supplied, the real HTTP exchanger is used.
func NewClaimService(db *gorm.DB, cfg config.ClaimConfig, ex xauth.Exchanger) *ClaimService {
	if ex == nil && cfg.Enabled {
		ex = xauth.NewHTTPExchanger(cfg)
	}
	return &ClaimService{DB: db, Exchanger: ex, Cfg: cfg}
}

// Enabled reports whether the claim flow is configured.
func (s *ClaimService) Enabled() bool {
	return s.Cfg.Enabled && s.Cfg.ClientID != "" && s.Cfg.ClientSecret != ""
}

// VerifyCode checks a pairing code without consuming it, returning the agent
// it would claim. Used by the claim UI before starting the redirect dance.
func (s *ClaimService) VerifyCode(ctx context.Context, code string) (*domain.Agent, error) {
	code = normalizePairingCode(code)
	if code == "" {
		return nil, ErrInvalidPairingCode
	}
	agent, err := repo.GetAgentByPairingCode(ctx, s.DB, code, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidPairingCode
	}
	return agent, err
}

// Begin starts a claim: validates the pairing code, persists a PendingClaim
// carrying the correlation state and PKCE verifier, and returns the external
// authorize URL to redirect the human to.
func (s *ClaimService) Begin(ctx context.Context, pairingCode string) (string, error) {
	tr := otel.Tracer("services/ClaimService")
	ctx, span := tr.Start(ctx, "Begin")
	defer span.End()

	if !s.Enabled() {
		return "", ErrClaimDisabled
	}

	agent, err := s.VerifyCode(ctx, pairingCode)
	if err != nil {
		return "", err
	}

	state, err := xauth.GenerateState()
	if err != nil {
		return "", err
	}
	pkce, err := xauth.GeneratePKCE()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	pc := &domain.PendingClaim{
		ID:          uuid.NewString(),
		AgentID:     agent.ID,
		State:       state,
		PairingCode: normalizePairingCode(pairingCode),
		Verifier:    pkce.Verifier,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.Cfg.PendingTTL),
	}
	if err := repo.CreatePendingClaim(ctx, s.DB, pc); err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("agent.id", agent.ID))
	return xauth.AuthorizeURL(s.Cfg, state, pkce.Challenge), nil
}

// ClaimResult is the outcome of a successful completion.
type ClaimResult struct {
	Agent *domain.Agent
}

// Complete finishes a claim after the external redirect: exchanges the code,
// fingerprints the identity, and binds it to the agent. Exactly one of two
// concurrent completions for the same agent can win; the loser gets
// ErrAgentClaimed. An identity that already holds a live agent gets
// ErrIdentityClaimed and its pending claim is discarded.
//
// An exchange failure (including timeout) leaves the PendingClaim in place;
// the human can retry until it expires.
func (s *ClaimService) Complete(ctx context.Context, state, code string) (*ClaimResult, error) {
	tr := otel.Tracer("services/ClaimService")
	ctx, span := tr.Start(ctx, "Complete")
	defer span.End()

	if !s.Enabled() {
		return nil, ErrClaimDisabled
	}

	now := time.Now().UTC()
	pc, err := repo.GetPendingClaimByState(ctx, s.DB, state, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}

	accountID, err := s.Exchanger.Exchange(ctx, code, pc.Verifier)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", pc.AgentID).Msg("identity exchange failed")
		return nil, err
	}

	xHash := xauth.Fingerprint(accountID)

	taken, err := repo.XHashHasActiveAgent(ctx, s.DB, xHash)
	if err != nil {
		return nil, err
	}
	if taken {
		_ = repo.DeletePendingClaim(ctx, s.DB, pc.ID)
		return nil, ErrIdentityClaimed
	}

	err = repo.ClaimAgent(ctx, s.DB, pc.AgentID, xHash, now)
	if errors.Is(err, repo.ErrAlreadyClaimed) {
		_ = repo.DeletePendingClaim(ctx, s.DB, pc.ID)
		return nil, ErrAgentClaimed
	}
	if err != nil {
		return nil, err
	}

	_ = repo.ClearPairingCode(ctx, s.DB, pc.AgentID)
	_ = repo.DeletePendingClaim(ctx, s.DB, pc.ID)

	agent, err := repo.GetAgent(ctx, s.DB, pc.AgentID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("agent_id", agent.ID).Msg("agent claimed")
	return &ClaimResult{Agent: agent}, nil
}

// normalizePairingCode uppercases and trims a user-typed pairing code.
func normalizePairingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
