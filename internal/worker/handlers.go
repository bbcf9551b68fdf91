package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/opportune/internal/catalog"
	gormdb "github.com/thebtf/opportune/internal/db/gorm"
	"github.com/thebtf/opportune/internal/worker/session"
	"github.com/thebtf/opportune/pkg/models"
)

// DefaultUser is used when a start request carries no user id.
const DefaultUser = "anonymous"

// Default page sizes for list endpoints.
const (
	DefaultPredictionLimit = 100
	DefaultFeatureLimit    = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireReady rejects requests until the service has started.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireStore rejects requests that need the database when it is down.
func (s *Service) requireStore(w http.ResponseWriter) bool {
	if s.repos == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return false
	}
	return true
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"store":   s.repos != nil,
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	VideoID   int    `json:"video_id"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (s *Service) handleVideoStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VideoID == 0 {
		writeError(w, http.StatusBadRequest, "video_id is required")
		return
	}
	if req.UserID == "" {
		req.UserID = DefaultUser
	}

	sess, err := s.startSession(r.Context(), models.Session{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		VideoID:        req.VideoID,
		StartTimestamp: req.Timestamp,
	})
	switch {
	case errors.Is(err, catalog.ErrUnknownVideo):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrVideoProcessing):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"status": "already_processing",
		})
		return
	case errors.Is(err, session.ErrDuplicateSession):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Int("video", req.VideoID).Msg("Failed to start session")
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "success",
		"session_id":            sess.SessionID,
		"video_id":              sess.VideoID,
		"timestamp":             sess.StartTimestamp,
		"estimated_duration_ms": s.catalog.Duration(sess.VideoID),
	})
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

// handleVideoStop marks a session stopped. Unknown ids are acknowledged.
func (s *Service) handleVideoStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID != "" {
		if err := s.sessionManager.Stop(req.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Stop signal received"})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionManager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleActiveSessions lists sessions still running. Finished sessions stay
// tracked until retention expires and are counted in "tracked".
func (s *Service) handleActiveSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessionManager.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": sessions,
		"total":           len(sessions),
		"tracked":         s.sessionManager.GetActiveSessionCount(),
	})
}

func (s *Service) handleVideoHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.sessionManager.GetActiveSessionCount(),
	})
}

func (s *Service) handleVideos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.All())
}

func (s *Service) handleActivePredictions(w http.ResponseWriter, r *http.Request) {
	videoID, err := optionalInt(r, "video_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := r.URL.Query().Get("user_id")

	var preds []models.Prediction
	if s.repos != nil {
		preds, err = s.repos.ActivePredictions(r.Context(), videoID, userID)
	} else {
		preds, err = s.journalActive(videoID, userID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(preds), "data": preds})
}

func (s *Service) journalActive(videoID int, userID string) ([]models.Prediction, error) {
	all, err := s.journal.ActivePredictions.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.Prediction, 0, len(all))
	for _, p := range all {
		if (videoID == 0 || p.VideoID == videoID) && (userID == "" || p.UserID == userID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) handleVideoPredictions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	videoID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	limit := gormdb.ParseLimitParam(r, DefaultPredictionLimit)
	preds, err := s.repos.PredictionsForVideo(r.Context(), videoID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "count": len(preds), "data": preds})
}

func (s *Service) handleSessionFeatures(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rows, err := s.repos.FeaturesForSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit := gormdb.ParseLimitParam(r, DefaultFeatureLimit); len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "data": rows})
}

func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if s.repos != nil {
		prof, err := s.repos.GetProfile(r.Context(), user)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if prof != nil {
			writeJSON(w, http.StatusOK, prof)
			return
		}
	}
	if variant, ok := s.sessionManager.Profile(user); ok {
		writeJSON(w, http.StatusOK, models.ClusterProfile{UserID: user, ClusterIndex: variant})
		return
	}
	writeError(w, http.StatusNotFound, "profile not found")
}

func (s *Service) handleSignalRange(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	start, errStart := strconv.ParseInt(q.Get("start_time"), 10, 64)
	end, errEnd := strconv.ParseInt(q.Get("end_time"), 10, 64)
	if errStart != nil || errEnd != nil {
		writeError(w, http.StatusBadRequest, "start_time and end_time parameters are required")
		return
	}
	samples, err := s.repos.Range(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(samples),
		"start_time": start,
		"end_time":   end,
		"data":       samples,
	})
}

type ingestRequest struct {
	UserID    string                `json:"user_id"`
	VideoID   int                   `json:"video_id"`
	SessionID string                `json:"session_id"`
	Samples   []models.SignalSample `json:"samples"`
}

func (s *Service) handleIngestSignals(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.repos.InsertSignals(r.Context(), gormdb.SignalContext{
		UserID:    req.UserID,
		VideoID:   req.VideoID,
		SessionID: req.SessionID,
	}, req.Samples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": n})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"sessions":    s.sessionManager.GetActiveSessionCount(),
		"sse_clients": s.sseBroadcaster.ClientCount(),
	}
	if s.store != nil {
		stats, err := s.store.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["store"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func optionalInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
