package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ControlHandler is the control-plane ingress: a request/response
// endpoint that lets the presenter's backend push state updates and
// arm/deactivate/reset the buzzer without holding a persistent
// connection. Every accepted mutation routes through the same
// dispatcher as connection-originated commands.
type ControlHandler struct {
	dispatcher *Dispatcher
}

// NewControlHandler creates a new control-plane handler.
func NewControlHandler(d *Dispatcher) *ControlHandler {
	return &ControlHandler{dispatcher: d}
}

// ControlResponse is the acknowledgment body.
type ControlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HandleControl handles POST /api/control with a Command envelope body.
func (h *ControlHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeControlResponse(w, http.StatusBadRequest, ControlResponse{
			OK:    false,
			Error: "invalid request body: " + err.Error(),
		})
		return
	}

	log.Debug().
		Str("event", string(cmd.Event)).
		Msg("control-plane command received")

	if err := h.dispatcher.Dispatch(nil, cmd); err != nil {
		writeControlResponse(w, http.StatusUnprocessableEntity, ControlResponse{
			OK:    false,
			Error: err.Error(),
		})
		return
	}

	writeControlResponse(w, http.StatusOK, ControlResponse{OK: true})
}

func writeControlResponse(w http.ResponseWriter, status int, resp ControlResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode control response")
	}
}

// RegisterRoutes registers control-plane routes with an HTTP mux.
func (h *ControlHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/control", CORSHandler(h.HandleControl))
}
