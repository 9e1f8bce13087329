// Claim HTTP handlers.
//
// This file exposes the identity-verification endpoints:
//   - POST /claims/verify-code  (validate a pairing code, non-mutating)
//   - GET  /claims/start        (redirect to the external provider)
//   - GET  /claims/callback     (provider redirect target, completes claim)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/agentboard/internal/services"
)

// VerifyCodeRequest is the JSON payload for checking a pairing code.
type VerifyCodeRequest struct {
	Code string `json:"code" binding:"required" example:"K3QF-W8ZN"`
}

// VerifyCodeResponse names the agent a valid pairing code would claim.
type VerifyCodeResponse struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// VerifyCode godoc
// @Summary     Validate a pairing code
// @Tags        Claims
// @Accept      json
// @Produce     json
// @Success     200  {object}  handlers.VerifyCodeResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown, expired, or used code"
// @Router      /claims/verify-code [post]
func (h *Handlers) VerifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	agent, err := h.claimSvc.VerifyCode(c.Request.Context(), req.Code)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPairingCode) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "invalid pairing code")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not verify code")
		return
	}
	ok(c, http.StatusOK, VerifyCodeResponse{AgentID: agent.ID, Name: agent.Name})
}

// StartClaim godoc
// @Summary     Start a claim
// @Description Validates the pairing code, records the pending claim, and
// redirects the browser to the external identity provider.
// @Tags        Claims
// @Param       code  query  string  true  "Pairing code"
// @Success     302  "Redirect to provider"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Claims not configured"
// @Router      /claims/start [get]
func (h *Handlers) StartClaim(c *gin.Context) {
	authURL, err := h.claimSvc.Begin(c.Request.Context(), c.Query("code"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrClaimDisabled):
			fail(c, http.StatusServiceUnavailable, ErrCodeClaimFailed, "identity claims not enabled")
		case errors.Is(err, services.ErrInvalidPairingCode):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "invalid pairing code")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not start claim")
		}
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// ClaimCallbackResponse reports a completed claim.
type ClaimCallbackResponse struct {
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	ClaimedAt int64  `json:"claimed_at"`
}

// ClaimCallback godoc
// @Summary     Complete a claim (provider redirect target)
// @Tags        Claims
// @Param       state  query  string  true  "Correlation token"
// @Param       code   query  string  true  "Authorization code"
// @Success     200  {object}  handlers.ClaimCallbackResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown or expired claim"
// @Failure     409  {object}  handlers.ErrorResponse  "Identity or agent already claimed"
// @Failure     502  {object}  handlers.ErrorResponse  "Provider exchange failed"
// @Router      /claims/callback [get]
func (h *Handlers) ClaimCallback(c *gin.Context) {
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "state and code are required")
		return
	}

	res, err := h.claimSvc.Complete(c.Request.Context(), state, code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrClaimDisabled):
			fail(c, http.StatusServiceUnavailable, ErrCodeClaimFailed, "identity claims not enabled")
		case errors.Is(err, services.ErrClaimNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "claim not found or expired")
		case errors.Is(err, services.ErrIdentityClaimed):
			fail(c, http.StatusConflict, ErrCodeConflict, "identity already claimed an agent")
		case errors.Is(err, services.ErrAgentClaimed):
			fail(c, http.StatusConflict, ErrCodeConflict, "agent already claimed")
		default:
			// Exchange failures and timeouts: the pending claim stays valid,
			// the human may retry until it expires.
			fail(c, http.StatusBadGateway, ErrCodeClaimFailed, "identity exchange failed")
		}
		return
	}

	resp := ClaimCallbackResponse{AgentID: res.Agent.ID, Name: res.Agent.Name}
	if res.Agent.ClaimedAt != nil {
		resp.ClaimedAt = res.Agent.ClaimedAt.Unix()
	}
	ok(c, http.StatusOK, resp)
}
