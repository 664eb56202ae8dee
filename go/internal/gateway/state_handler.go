package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// StateHandler handles HTTP requests for session state
type StateHandler struct {
	app     SessionApp
	history HistoryReader
}

func NewStateHandler(app SessionApp, history HistoryReader) *StateHandler {
	return &StateHandler{
		app:     app,
		history: history,
	}
}

// HandleGetSession handles GET /api/session
func (h *StateHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.app.State(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, StateData{
		Session:      snapshot,
		RemainingSec: remainingSeconds(snapshot, h.app.Now(), h.app.Rules()),
	})
}

// HandleGetParticipant handles GET /api/session/participants/{id}
func (h *StateHandler) HandleGetParticipant(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")
	if participantID == "" {
		http.Error(w, "Participant ID is required", http.StatusBadRequest)
		return
	}

	ps, err := h.app.Participant(r.Context(), participantID)
	if err != nil {
		log.Error().Err(err).Str("participant_id", participantID).Msg("failed to get participant state")
		http.Error(w, "Failed to get participant state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ps)
}

// HandleListRounds handles GET /api/rounds?limit=
func (h *StateHandler) HandleListRounds(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Round history is disabled", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rounds, err := h.history.ListRounds(r.Context(), h.app.Key(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list rounds")
		http.Error(w, "Failed to list rounds", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rounds)
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.HandleGetSession)
	mux.HandleFunc("GET /api/session/participants/{id}", h.HandleGetParticipant)
	mux.HandleFunc("GET /api/rounds", h.HandleListRounds)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
