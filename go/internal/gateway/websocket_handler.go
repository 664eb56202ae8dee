package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for session connections
type WebSocketHandler struct {
	service  *Service
	password string
}

func NewWebSocketHandler(service *Service, password string) *WebSocketHandler {
	return &WebSocketHandler{
		service:  service,
		password: password,
	}
}

// HandleSessionConnection handles GET /ws/session?participant_id=..&password=..
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	if h.password != "" {
		given := r.URL.Query().Get("password")
		if subtle.ConstantTimeCompare([]byte(given), []byte(h.password)) != 1 {
			http.Error(w, "invalid session password", http.StatusUnauthorized)
			return
		}
	}

	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		participantID = uuid.NewString()
	}

	sessionKey := h.service.app.Key()
	conn, err := h.service.connectionManager.UpgradeConnection(w, r, participantID, sessionKey)
	if err != nil {
		// The upgrader already answered the request.
		log.Error().
			Err(err).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	h.service.sendWelcome(r.Context(), conn)
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.service.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
