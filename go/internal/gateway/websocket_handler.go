package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleConnection upgrades the request. The connection joins a room later
// with a join_room message.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity := rooms.IdentityFromHeaders(r.Header)

	// Upgrade writes its own error response on failure
	if err := h.hub.UpgradeConnection(w, r, identity); err != nil {
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.hub.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
