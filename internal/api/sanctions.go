package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/engine"
)

func (d *Dependencies) handleListSanctions(w http.ResponseWriter, r *http.Request) {
	list, err := d.Engine.ListBannedUsers(r.Context())
	if err != nil {
		d.Logger.Error("failed to list sanctions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sanctions"})
		return
	}
	resp := make([]BanInfoResp, 0, len(list))
	for _, info := range list {
		resp = append(resp, banInfoToResp(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetSanction(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	info, err := d.Engine.GetBanInfo(r.Context(), userID)
	if err != nil {
		d.Logger.Error("failed to get sanction", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get sanction"})
		return
	}
	if info == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "User is not sanctioned."})
		return
	}
	writeJSON(w, http.StatusOK, banInfoToResp(*info))
}

func (d *Dependencies) handleBanUser(w http.ResponseWriter, r *http.Request) {
	d.sanction(w, r, d.Engine.BanUser)
}

func (d *Dependencies) handleRestrictUser(w http.ResponseWriter, r *http.Request) {
	d.sanction(w, r, d.Engine.TempRestrictUser)
}

// sanction applies fn to the path user. The body is optional.
func (d *Dependencies) sanction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (engine.Sanction, error)) {
	userID := r.PathValue("user_id")
	var req SanctionReq
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	s, err := fn(r.Context(), userID, req.Reason)
	if errors.Is(err, engine.ErrEmptyUserID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to sanction user", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to sanction user"})
		return
	}
	info, err := d.Engine.GetBanInfo(r.Context(), s.UserID)
	if err != nil || info == nil {
		// The write succeeded; report what was written.
		writeJSON(w, http.StatusOK, BanInfoResp{
			UserID:      s.UserID,
			Reason:      s.Reason,
			BannedAt:    s.BannedAt,
			IsPermanent: s.IsPermanent,
			ExpiresAt:   s.ExpiresAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, banInfoToResp(*info))
}

func (d *Dependencies) handleUnbanUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	removed, err := d.Engine.UnbanUser(r.Context(), userID)
	if errors.Is(err, engine.ErrEmptyUserID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to unban user", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to unban user"})
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "User is not sanctioned."})
		return
	}
	writeJSON(w, http.StatusOK, UnbanResp{UserID: userID, Unbanned: true})
}
