package api

import (
	"time"

	"github.com/triage-ai/moderation/internal/chread"
	"github.com/triage-ai/moderation/internal/engine"
)

// --- Check ---

// CheckRequest is the JSON body for POST /v1/moderation/check.
type CheckRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

// CheckResponse is the JSON response for POST /v1/moderation/check.
type CheckResponse struct {
	Allowed       bool    `json:"allowed"`
	ViolationKind *string `json:"violation_kind"`
	Message       *string `json:"message"`
	Action        *string `json:"action,omitempty"`
	WarningCount  int     `json:"warning_count"`
	RequestID     string  `json:"request_id"`
}

// --- Rules ---

// AddBannedWordReq is the JSON body for POST /v1/admin/banned-words.
type AddBannedWordReq struct {
	Word string `json:"word"`
}

// ImportBannedWordsReq is the JSON body for POST /v1/admin/banned-words/import.
type ImportBannedWordsReq struct {
	Words []string `json:"words"`
}

type ImportBannedWordsResp struct {
	Imported int `json:"imported"`
}

// AddRegexPatternReq is the JSON body for POST /v1/admin/regex-patterns.
type AddRegexPatternReq struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ContextRuleReq is the JSON body for PUT /v1/admin/context-rules.
type ContextRuleReq struct {
	TriggerWord        string   `json:"trigger_word"`
	AllowedContexts    []string `json:"allowed_contexts"`
	DisallowedContexts []string `json:"disallowed_contexts"`
	Description        string   `json:"description"`
}

// --- Sanctions ---

// SanctionReq is the optional JSON body for ban and restrict.
type SanctionReq struct {
	Reason string `json:"reason"`
}

// BanInfoResp is the admin view of one sanction.
type BanInfoResp struct {
	UserID               string     `json:"user_id"`
	Reason               string     `json:"reason"`
	BannedAt             time.Time  `json:"banned_at"`
	IsPermanent          bool       `json:"is_permanent"`
	ExpiresAt            *time.Time `json:"expires_at"`
	Status               string     `json:"status"`
	TimeRemainingSeconds *int64     `json:"time_remaining_seconds"`
}

type UnbanResp struct {
	UserID   string `json:"user_id"`
	Unbanned bool   `json:"unbanned"`
}

// --- Warnings ---

type ClearWarningsResp struct {
	UserID  string `json:"user_id"`
	Removed int64  `json:"removed"`
}

// --- Events ---

// EventListResp is the paginated response for GET /v1/admin/events.
type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// --- Common ---

// ErrorResp is the standard error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

func checkResultToResp(res *engine.CheckResult) CheckResponse {
	resp := CheckResponse{
		Allowed:      res.Allowed,
		WarningCount: res.WarningCount,
		RequestID:    res.RequestID,
	}
	if res.Allowed {
		return resp
	}
	kind := string(res.Kind)
	resp.ViolationKind = &kind
	msg := res.Message
	resp.Message = &msg
	if res.Action != "" {
		action := string(res.Action)
		resp.Action = &action
	}
	return resp
}

func banInfoToResp(info engine.BanInfo) BanInfoResp {
	resp := BanInfoResp{
		UserID:      info.UserID,
		Reason:      info.Reason,
		BannedAt:    info.BannedAt,
		IsPermanent: info.IsPermanent,
		ExpiresAt:   info.ExpiresAt,
		Status:      string(info.Status),
	}
	if info.Status == engine.StatusActiveRestriction {
		secs := int64(info.TimeRemaining.Seconds())
		resp.TimeRemainingSeconds = &secs
	}
	return resp
}
