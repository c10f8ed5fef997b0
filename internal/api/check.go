package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/engine"
)

// handleCheck implements POST /v1/moderation/check.
// Auth middleware has already validated the service key.
func (d *Dependencies) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	res, err := d.Engine.CheckPrompt(r.Context(), req.UserID, req.Prompt)
	if errors.Is(err, engine.ErrEmptyUserID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if err != nil {
		d.Logger.Error("moderation check failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Moderation check failed"})
		return
	}

	writeJSON(w, http.StatusOK, checkResultToResp(res))
}
