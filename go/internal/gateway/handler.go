package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/history"
	"github.com/mcdev12/impact/go/internal/round"
)

const (
	defaultRoundsLimit = 20
	maxRoundsLimit     = 100
)

// Controller is the arena the gateway reports on and resets. The session
// runner implements it in-process; RemoteController in the standalone
// gateway.
type Controller interface {
	Snapshot() round.Snapshot
	Reset(ctx context.Context) error
}

// RoundHistory lists finished rounds, newest first.
type RoundHistory interface {
	RecentRounds(ctx context.Context, limit int) ([]history.Record, error)
}

// Handler serves the display WebSocket and the arena HTTP endpoints
type Handler struct {
	connectionManager *ConnectionManager
	controller        Controller
	history           RoundHistory
}

func NewHandler(cm *ConnectionManager, controller Controller) *Handler {
	return &Handler{
		connectionManager: cm,
		controller:        controller,
	}
}

// HandleArenaConnection upgrades a display connection. The client gets the
// current state first, then every event.
func (h *Handler) HandleArenaConnection(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "display-" + uuid.NewString()[:8]
	}

	initial := func() []byte {
		snap := h.controller.Snapshot()
		data, err := json.Marshal(Message{Kind: KindState, State: &snap})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal initial state")
			return nil
		}
		return data
	}

	// Upgrade writes its own error response on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, clientID, initial); err != nil {
		log.Error().
			Err(err).
			Str("client_id", clientID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.Stats())
}

// HandleGetState handles GET /state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// HandleReset handles POST /reset. Only a finished round can be reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Reset(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.controller.Snapshot())
	case errors.Is(err, round.ErrStateViolation):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrControllerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Error().Err(err).Msg("reset failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

// HandleListRounds handles GET /rounds?limit=N
func (h *Handler) HandleListRounds(w http.ResponseWriter, r *http.Request) {
	limit := defaultRoundsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRoundsLimit)
	}

	rounds, err := h.history.RecentRounds(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list rounds")
		writeError(w, http.StatusInternalServerError, errors.New("failed to list rounds"))
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

// RegisterRoutes registers the gateway routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/arena", h.HandleArenaConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("GET /state", h.HandleGetState)
	mux.HandleFunc("POST /reset", h.HandleReset)
	if h.history != nil {
		mux.HandleFunc("GET /rounds", h.HandleListRounds)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
