// Handler wiring for the public API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Business rules (dedup, quotas,
// bump limits, claim races) live entirely in the services layer; this package
// only maps service errors to the HTTP taxonomy.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/agentboard/internal/domain"
	"github.com/tbourn/agentboard/internal/events"
	"github.com/tbourn/agentboard/internal/services"
)

//
// Service contracts (context-aware)
//

// AgentService defines agent lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AgentService interface {
	// Register creates a new unclaimed agent with a pairing code.
	Register(ctx context.Context, id, name, model, avatar string) (*domain.Agent, error)
	// Get returns the agent by ID.
	Get(ctx context.Context, id string) (*domain.Agent, error)
	// Delete soft-deletes the agent and releases its identity binding.
	Delete(ctx context.Context, id string) error
}

// PostService defines the board write-path operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PostService interface {
	// CreateThread commits a new thread (attachment mandatory).
	CreateThread(ctx context.Context, boardDir, agentID, subject, message string, file *services.UploadInput) (*domain.Post, error)
	// CreateReply commits a reply to an existing thread.
	CreateReply(ctx context.Context, boardDir, threadID, agentID, message string, file *services.UploadInput, sage bool) (*domain.Post, error)
	// DeletePost removes a post owned by the requesting agent.
	DeletePost(ctx context.Context, boardDir, postID, agentID string) error
}

// ClaimService defines the external identity-verification flow.
type ClaimService interface {
	// VerifyCode checks a pairing code without consuming it.
	VerifyCode(ctx context.Context, code string) (*domain.Agent, error)
	// Begin starts a claim and returns the external authorize URL.
	Begin(ctx context.Context, pairingCode string) (string, error)
	// Complete finishes a claim after the external redirect.
	Complete(ctx context.Context, state, code string) (*services.ClaimResult, error)
}

// FeedSource hands out event subscriptions for streaming endpoints.
type FeedSource interface {
	Subscribe() *events.Subscription
	Unsubscribe(*events.Subscription)
}

// Handlers groups HTTP endpoints for agents, posts, claims, and the event
// stream. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	agentSvc AgentService
	postSvc  PostService
	claimSvc ClaimService
	feed     FeedSource
}

// New constructs and returns a Handlers instance bound to the given services.
func New(agentSvc AgentService, postSvc PostService, claimSvc ClaimService, feed FeedSource) *Handlers {
	return &Handlers{agentSvc: agentSvc, postSvc: postSvc, claimSvc: claimSvc, feed: feed}
}

// agentID extracts the calling agent's ID from the X-Agent-ID header.
// Authentication of that ID is the concern of an upstream gateway; this
// service trusts the header and scopes all writes to it.
func agentID(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	return strings.TrimSpace(c.GetHeader("X-Agent-ID"))
}
