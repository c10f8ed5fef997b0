package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/engine"
)

// handleListAllWarnings implements GET /v1/admin/warnings.
// Filters: since (RFC3339), tag_prefix (e.g. "banned_word:"), limit, offset.
func (d *Dependencies) handleListAllWarnings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.WarningFilter{
		TagPrefix: q.Get("tag_prefix"),
		Limit:     queryInt(q, "limit", 100),
		Offset:    queryInt(q, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "since must be an RFC3339 timestamp"})
			return
		}
		filter.Since = t
	}

	warnings, err := d.Engine.ListAllWarnings(r.Context(), filter)
	if err != nil {
		d.Logger.Error("failed to list warnings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list warnings"})
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(warnings))
}

func (d *Dependencies) handleGetUserWarnings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	warnings, err := d.Engine.GetUserWarnings(r.Context(), userID)
	if err != nil {
		d.Logger.Error("failed to get user warnings", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get warnings"})
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(warnings))
}

func (d *Dependencies) handleClearUserWarnings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	n, err := d.Engine.RemoveAllUserWarnings(r.Context(), userID)
	if errors.Is(err, engine.ErrEmptyUserID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to clear warnings", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to clear warnings"})
		return
	}
	writeJSON(w, http.StatusOK, ClearWarningsResp{UserID: userID, Removed: n})
}

func (d *Dependencies) handleRemoveUserWarning(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "id must be an integer"})
		return
	}
	removed, err := d.Engine.RemoveUserWarning(r.Context(), userID, id)
	if errors.Is(err, engine.ErrEmptyUserID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to remove warning", zap.String("user_id", userID), zap.Int64("warning_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to remove warning"})
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Warning not found."})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleGetUserViolations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	limit := queryInt(r.URL.Query(), "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	violations, err := d.Engine.GetUserViolations(r.Context(), userID, limit)
	if err != nil {
		d.Logger.Error("failed to get violations", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get violations"})
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(violations))
}

// nonNilSlice keeps empty results encoding as [] rather than null.
func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
