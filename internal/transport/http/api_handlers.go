package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// APIHandlers serves read-only views of presence and history.
type APIHandlers struct {
	hub     Hub
	history store.History
	log     *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub Hub, history store.History, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:     hub,
		history: history,
		log:     logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Clients returns the current roster.
// GET /api/clients
func (h *APIHandlers) Clients(c *gin.Context) {
	roster, err := h.hub.Roster(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to query roster")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
		return
	}
	c.JSON(http.StatusOK, rosterResponse(roster))
}

// Sessions lists recent sessions.
// GET /api/sessions?limit=N
func (h *APIHandlers) Sessions(c *gin.Context) {
	limit, ok := h.listLimit(c)
	if !ok {
		return
	}
	sessions, err := h.history.ListSessions(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, sessionResponses(sessions))
}

// Calls lists recent calls.
// GET /api/calls?limit=N
func (h *APIHandlers) Calls(c *gin.Context) {
	limit, ok := h.listLimit(c)
	if !ok {
		return
	}
	calls, err := h.history.ListCalls(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, callResponses(calls))
}

// listLimit parses ?limit and rejects the request when history is off.
func (h *APIHandlers) listLimit(c *gin.Context) (int, bool) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "history is disabled"})
		return 0, false
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return 0, false
		}
		limit = min(n, maxListLimit)
	}
	return limit, true
}
