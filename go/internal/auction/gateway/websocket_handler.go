package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/apperr"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/httpx"
	"github.com/mcdev12/codebid/go/internal/store"
)

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          auth.Verifier
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, verifier auth.Verifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleConnection authenticates the handshake and upgrades it. Browsers
// cannot set headers on a websocket handshake, so the token may also come
// as a query parameter.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	if identity.IsTeam() {
		team, err := h.connectionManager.sessions.GetTeam(r.Context(), identity.TeamID)
		if errors.Is(err, store.ErrNotFound) {
			httpx.Error(w, r, apperr.Auth("team no longer exists"))
			return
		}
		if err != nil {
			httpx.Error(w, r, err)
			return
		}
		if !team.IsActive {
			httpx.Error(w, r, apperr.Forbidden("team %s is disabled", team.TeamName))
			return
		}
	}

	// Upgrade writes its own HTTP error on failure
	if err := h.connectionManager.UpgradeConnection(w, r, identity); err != nil {
		log.Error().
			Err(err).
			Str("role", string(identity.Role)).
			Str("team_id", teamIDString(identity)).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections. Admins only.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if !identity.IsAdmin() {
		httpx.Error(w, r, apperr.Forbidden("admin access required"))
		return
	}
	httpx.OK(w, "", h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.HandleConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
