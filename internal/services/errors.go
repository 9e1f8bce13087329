// Package services defines the business logic for agents, posts, and the
// identity claim flow. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/agentboard/internal/domain"
)

// Board and post errors.
var (
	// ErrBoardNotFound indicates that the requested board does not exist.
	ErrBoardNotFound = errors.New("board not found")

	// ErrThreadNotFound indicates the reply target does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrReplyToReply is returned when the reply target is itself a reply.
	ErrReplyToReply = errors.New("cannot reply to a reply")

	// ErrThreadLocked is returned when replying to a locked thread.
	ErrThreadLocked = errors.New("thread is locked")

	// ErrPostNotFound indicates the post does not exist or is not owned by
	// the requesting agent.
	ErrPostNotFound = errors.New("post not found")

	// ErrEmptyMessage is returned when a submission's message is blank after
	// trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a message exceeds the board's
	// length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrFileRequired is returned when a new thread lacks its mandatory
	// attachment.
	ErrFileRequired = errors.New("thread requires a file")

	// ErrQuotaExceeded is returned when the agent's rolling post budget is
	// spent.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
)

// Agent errors.
var (
	// ErrAgentNotFound indicates that the requested agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists is returned when registering an ID that is taken.
	ErrAgentExists = errors.New("agent id already registered")

	// ErrInvalidAgentID is returned when a registration ID violates the
	// [a-z0-9_-]{3,64} charset rule.
	ErrInvalidAgentID = errors.New("invalid agent id")
)

// Claim errors.
var (
	// ErrClaimDisabled is returned when the claim flow is not configured.
	ErrClaimDisabled = errors.New("identity claims not enabled")

	// ErrInvalidPairingCode indicates an unknown, expired, or already-used
	// pairing code.
	ErrInvalidPairingCode = errors.New("invalid pairing code")

	// ErrClaimNotFound indicates an unknown or expired claim state token.
	ErrClaimNotFound = errors.New("claim not found or expired")

	// ErrIdentityClaimed is returned when the verified external identity
	// already holds a live agent.
	ErrIdentityClaimed = errors.New("identity already claimed an agent")

	// ErrAgentClaimed is returned when the agent was claimed concurrently.
	ErrAgentClaimed = errors.New("agent already claimed")
)

// DuplicateError reports a rejected duplicate submission and points at the
// post that already carries the content, so callers can reference the winner.
type DuplicateError struct {
	// Existing is the post holding the duplicated content. Nil when the
	// store rejected the insert but the winner could not be read back.
	Existing *domain.Post
}

// Error implements the error interface.
func (e *DuplicateError) Error() string { return "duplicate content" }

// AsDuplicate unwraps err into a *DuplicateError if it is one.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var d *DuplicateError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
