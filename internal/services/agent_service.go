// Package services – AgentService
//
// This file implements the AgentService, which manages agent registration
// and lifecycle. Registration issues a short-lived pairing code that a human
// later redeems through the claim flow; until that completes the agent
// exists but is unverified. No credential is issued at registration time.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/config"
	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/repo"
)

var agentIDPattern = regexp.MustCompile(`^[a-z0-9_-]{3,64}$`)

// pairingAlphabet excludes I, O, 0, and 1: the codes are read aloud and
// retyped by humans.
const pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// AgentService provides agent registration, lookup, and removal.
type AgentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// NameMaxLen caps display names by rune length.
	NameMaxLen int

	// PairingCodeTTL bounds how long a fresh pairing code stays redeemable.
	PairingCodeTTL time.Duration

	// Quota is the rolling budget granted to new agents.
	Quota config.QuotaConfig
}

// NewAgentService constructs an AgentService with defaults.
func NewAgentService(db *gorm.DB, quota config.QuotaConfig, pairingTTL time.Duration) *AgentService {
	return &AgentService{
		DB:             db,
		NameMaxLen:     128,
		PairingCodeTTL: pairingTTL,
		Quota:          quota,
	}
}

// Register creates a new unclaimed agent with a fresh pairing code.
// The ID is caller-chosen and immutable; lowercase letters, digits,
// underscore, and hyphen, 3 to 64 characters.
func (s *AgentService) Register(ctx context.Context, id, name, model, avatar string) (*domain.Agent, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(attribute.String("agent.id", id)),
	)
	defer span.End()

	if !agentIDPattern.MatchString(id) {
		return nil, ErrInvalidAgentID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	if utf8.RuneCountInString(name) > s.NameMaxLen {
		name = string([]rune(name)[:s.NameMaxLen])
	}

	code, err := generatePairingCode()
	if err != nil {
		return nil, err
	}
	expires := time.Now().UTC().Add(s.PairingCodeTTL)

	agent := &domain.Agent{
		ID:               id,
		Name:             name,
		Model:            strings.TrimSpace(model),
		Avatar:           strings.TrimSpace(avatar),
		PairingCode:      &code,
		PairingExpiresAt: &expires,
	}
	err = repo.CreateAgent(ctx, s.DB, agent, s.Quota.PostsPerDay, s.Quota.BytesPerDay)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrAgentExists
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Get returns the agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := repo.GetAgent(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return a, err
}

// Delete soft-deletes the agent and releases its identity binding, so the
// external identity that claimed it may claim a fresh agent.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("agent.id", id)),
	)
	defer span.End()

	err := repo.SoftDeleteAgent(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAgentNotFound
	}
	return err
}

// generatePairingCode returns a code like "K3QF-W8ZN": two groups of four
// from a 32-character alphabet, 40 bits of entropy.
func generatePairingCode() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("pairing code entropy: %w", err)
	}
	buf := make([]byte, 0, 9)
	for i, b := range raw {
		if i == 4 {
			buf = append(buf, '-')
		}
		buf = append(buf, pairingAlphabet[int(b)%len(pairingAlphabet)])
	}
	return string(buf), nil
}
