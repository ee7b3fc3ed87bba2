package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkpilot/internal/reconciler"
)

// NewReconcileHandler returns POST /admin/reconcile, the manually-triggered
// variant of the scheduled job. Role gating happens in middleware; the logic
// is byte-for-byte the scheduled pass.
func NewReconcileHandler(job *reconciler.Job, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := job.RunOnce(r.Context())
		if err != nil {
			// Partial failures still produce a summary; report both.
			logger.Error("manual reconciliation finished with errors", zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"summary": summary,
				"errors":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
	}
}
