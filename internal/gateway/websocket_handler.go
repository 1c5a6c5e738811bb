package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	dispatcher        *Dispatcher
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, d *Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		dispatcher:        d,
	}
}

// HandleConnection upgrades the request and hands the connection to the
// manager. A `session_id` query parameter joins the session immediately,
// which saves reconnecting clients one round trip; otherwise the client
// is expected to send join-session itself.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connectionManager.UpgradeConnection(w, r)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		data, _ := json.Marshal(JoinSessionData{SessionID: sessionID})
		if err := h.dispatcher.Dispatch(conn, Command{Event: CmdJoinSession, Data: data}); err != nil {
			log.Error().
				Err(err).
				Str("session_id", sessionID).
				Msg("failed to auto-join session")
		}
	}
}

// HandleStats returns statistics about active connections.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", CORSHandler(h.HandleStats))
}
