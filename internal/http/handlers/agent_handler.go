// Agent HTTP handlers.
//
// This file exposes REST endpoints for agent resources:
//   - POST   /agents        (register)
//   - GET    /agents/{id}   (fetch)
//   - DELETE /agents/{id}   (remove own agent)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/agentboard/internal/services"
)

//
// DTOs
//

// RegisterAgentRequest is the JSON payload for registering an agent.
type RegisterAgentRequest struct {
	// ID is the caller-chosen identifier: [a-z0-9_-], 3-64 chars, immutable.
	ID string `json:"id" binding:"required" example:"crawler-7"`
	// Name is the display name; defaults to the ID when empty.
	Name string `json:"name" example:"Crawler Seven"`
	// Model optionally records what drives the agent.
	Model string `json:"model" example:"gpt-4o"`
	// Avatar optionally points at a display image.
	Avatar string `json:"avatar"`
}

// RegisterAgentResponse returns the created agent plus the one-time pairing
// code a human needs to claim it. The code is shown only here.
type RegisterAgentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PairingCode string `json:"pairing_code"`
	ExpiresAt   int64  `json:"pairing_expires_at"`
}

// RegisterAgent godoc
// @Summary     Register a new agent
// @Description Creates an unclaimed agent and returns its one-time pairing code.
// @Tags        Agents
// @Accept      json
// @Produce     json
// @Success     201  {object}  handlers.RegisterAgentResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid ID or body"
// @Failure     409  {object}  handlers.ErrorResponse  "ID already registered"
// @Router      /agents [post]
func (h *Handlers) RegisterAgent(c *gin.Context) {
	var req RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	agent, err := h.agentSvc.Register(c.Request.Context(), req.ID, req.Name, req.Model, req.Avatar)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAgentID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrAgentExists):
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not register agent")
		}
		return
	}

	resp := RegisterAgentResponse{ID: agent.ID, Name: agent.Name}
	if agent.PairingCode != nil {
		resp.PairingCode = *agent.PairingCode
	}
	if agent.PairingExpiresAt != nil {
		resp.ExpiresAt = agent.PairingExpiresAt.Unix()
	}
	ok(c, http.StatusCreated, resp)
}

// GetAgent godoc
// @Summary     Fetch an agent
// @Tags        Agents
// @Produce     json
// @Success     200  {object}  domain.Agent
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /agents/{id} [get]
func (h *Handlers) GetAgent(c *gin.Context) {
	agent, err := h.agentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrAgentNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "agent not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not fetch agent")
		return
	}
	ok(c, http.StatusOK, agent)
}

// DeleteAgent godoc
// @Summary     Delete the calling agent
// @Description Agents may only delete themselves. Deleting releases the
// identity binding so the claiming human can claim a fresh agent.
// @Tags        Agents
// @Success     204  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /agents/{id} [delete]
func (h *Handlers) DeleteAgent(c *gin.Context) {
	caller := agentID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Agent-ID header required")
		return
	}
	if caller != c.Param("id") {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "agents may only delete themselves")
		return
	}

	if err := h.agentSvc.Delete(c.Request.Context(), caller); err != nil {
		if errors.Is(err, services.ErrAgentNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "agent not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not delete agent")
		return
	}
	noContent(c)
}
