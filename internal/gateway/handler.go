package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hls-engine/internal/platform/metrics"
	"hls-engine/internal/player"

	"github.com/go-chi/chi/v5"
)

const (
	mediaContentType = "video/mp4"
	jsonContentType  = "application/json"

	// FetchDurationHeader carries the driver-measured fetch time in milliseconds
	// on POST /sessions/{id}/actions/{action_id}/data.
	FetchDurationHeader = "X-Fetch-Duration-Ms"

	maxBodyBytes = 64 << 20
)

// Handler exposes hosted engine sessions over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Mount registers the session routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/play", h.Play)
			r.Get("/actions/next", h.NextAction)
			r.Get("/outputs/next", h.NextOutput)
			r.Post("/actions/{action_id}/data", h.HandleData)
			r.Post("/actions/{action_id}/timeout", h.HandleTimeout)
		})
	})
}

// CreateSession handles POST /sessions.
// Body: { "url": "https://example.com/live/master.m3u8" }.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid session body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, err := h.svc.CreateSession(req.URL)
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	h.log.Info("session created",
		slog.String("session_id", string(st.ID)),
		slog.String("url", st.URL))
	writeJSON(w, http.StatusCreated, CreateSessionResponse{ID: st.ID, URL: st.URL})
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	resp, err := h.svc.Describe(id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSession handles DELETE /sessions/{session_id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := h.svc.Destroy(id); err != nil {
		h.writeError(w, id, err)
		return
	}
	h.log.Info("session destroyed", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// Play handles POST /sessions/{session_id}/play. The body is the fetched text
// of the session's initial URL.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Play(id, body); err != nil {
		h.writeError(w, id, err)
		return
	}
	h.log.Debug("session playing", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// NextAction handles GET /sessions/{session_id}/actions/next. It answers 204
// when no action is pending.
func (h *Handler) NextAction(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	action, ok, err := h.svc.NextAction(id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// NextOutput handles GET /sessions/{session_id}/outputs/next. It answers 204
// when no chunk is buffered.
func (h *Handler) NextOutput(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	chunk, err := h.svc.NextOutput(id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	if chunk == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", mediaContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(chunk)))
	w.WriteHeader(http.StatusOK)
	w.Write(chunk)
}

// HandleData handles POST /sessions/{session_id}/actions/{action_id}/data.
// The body is the fetched payload.
func (h *Handler) HandleData(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	actionID, ok := parseActionID(w, r)
	if !ok {
		return
	}

	var fetchDuration time.Duration
	if v := r.Header.Get(FetchDurationHeader); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			h.log.Debug("invalid fetch duration header", slog.String("value", v))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fetchDuration = time.Duration(ms) * time.Millisecond
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.HandleData(id, actionID, body, fetchDuration); err != nil {
		h.writeError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTimeout handles POST /sessions/{session_id}/actions/{action_id}/timeout.
func (h *Handler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	actionID, ok := parseActionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.HandleTimeout(id, actionID); err != nil {
		h.writeError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return nil, false
		}
		h.log.Debug("read body failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// writeError maps service and engine errors to responses. Engine errors carry
// their JSON form so drivers can inspect kind and trace.
func (h *Handler) writeError(w http.ResponseWriter, id SessionID, err error) {
	var engineErr *player.Error
	switch {
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrTooManySessions):
		h.log.Info("session rejected", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
	case errors.As(err, &engineErr) && engineErr.Kind == player.InvalidInput:
		h.log.Debug("engine rejected input",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, engineErr)
	case engineErr != nil:
		h.log.Error("engine failure",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, engineErr)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func sessionID(r *http.Request) SessionID {
	return SessionID(chi.URLParam(r, "session_id"))
}

func parseActionID(w http.ResponseWriter, r *http.Request) (player.ActionID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "action_id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	return player.ActionID(n), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
