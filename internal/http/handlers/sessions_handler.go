package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"parkpilot/internal/http/middleware"
	"parkpilot/internal/models"
	"parkpilot/internal/service"
)

// SessionsHandler exposes the session lifecycle to client devices.
type SessionsHandler struct {
	svc    *service.SessionsService
	logger *zap.Logger
}

// NewSessionsHandler builds handler set.
func NewSessionsHandler(svc *service.SessionsService, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		svc:    svc,
		logger: logger,
	}
}

type startSessionRequest struct {
	ZoneCode        string  `json:"zone_code"`
	PlateText       string  `json:"plate_text"`
	DurationMinutes int     `json:"duration_minutes"`
	RateSnapshot    float64 `json:"rate_snapshot"`
	ClientRef       string  `json:"client_ref"`
}

type modifyEndRequest struct {
	DeltaMinutes int `json:"delta_minutes"`
}

// HandleStart handles POST /sessions/start.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	session, err := h.svc.StartSession(r.Context(), service.StartSessionInput{
		UserID:          userID,
		ZoneCode:        req.ZoneCode,
		PlateText:       req.PlateText,
		DurationMinutes: req.DurationMinutes,
		RateSnapshot:    req.RateSnapshot,
		ClientRef:       req.ClientRef,
	})
	if err != nil {
		var rej *models.RejectionError
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"rejected": string(rej.Reason),
				"message":  rej.Reason.Message(),
			})
			return
		}
		h.logger.Error("failed to start session", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// HandleEnd handles POST /sessions/end. Idempotent: ending with no active
// session returns 200 with no session body.
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	session, err := h.svc.EndSession(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to end session", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleAutoEnd handles POST /sessions/auto-end, the foregrounded client's
// fallback termination.
func (h *SessionsHandler) HandleAutoEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	session, err := h.svc.AutoEndActive(r.Context(), userID, req.Reason)
	if err != nil {
		h.logger.Error("failed to auto-end session", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleModifyEnd handles POST /sessions/modify-end.
func (h *SessionsHandler) HandleModifyEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req modifyEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	session, err := h.svc.ModifyActiveEnd(r.Context(), userID, req.DeltaMinutes)
	if err != nil {
		h.logger.Error("failed to modify session end", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to modify session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleRestore handles GET /sessions/restore: the bootstrap query for the
// caller's active session.
func (h *SessionsHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	session, err := h.svc.RestoreActive(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to restore session", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to restore session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleHistory handles GET /sessions/me.
func (h *SessionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	sessions, err := h.svc.HistoryForUser(r.Context(), userID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// HandleTransactions handles GET /transactions/me.
func (h *SessionsHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	txs, err := h.svc.TransactionsForUser(r.Context(), userID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// HandleActiveSessions handles GET /sessions/active (operator only).
func (h *SessionsHandler) HandleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch active sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
