package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/auth"
	"github.com/triage-ai/moderation/internal/chread"
	"github.com/triage-ai/moderation/internal/engine"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Engine         *engine.Engine
	Auth           auth.Authenticator
	Reader         *chread.Reader // nil if ClickHouse unavailable
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	service := func(h http.HandlerFunc) http.HandlerFunc { return deps.requireRole(auth.RoleService, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return deps.requireRole(auth.RoleAdmin, h) }

	// Check endpoint (service key)
	mux.HandleFunc("POST /v1/moderation/check", service(deps.handleCheck))

	// Rules
	mux.HandleFunc("GET /v1/admin/banned-words", admin(deps.handleListBannedWords))
	mux.HandleFunc("POST /v1/admin/banned-words", admin(deps.handleAddBannedWord))
	mux.HandleFunc("POST /v1/admin/banned-words/import", admin(deps.handleImportBannedWords))
	mux.HandleFunc("DELETE /v1/admin/banned-words/{word}", admin(deps.handleRemoveBannedWord))
	mux.HandleFunc("GET /v1/admin/regex-patterns", admin(deps.handleListRegexPatterns))
	mux.HandleFunc("POST /v1/admin/regex-patterns", admin(deps.handleAddRegexPattern))
	mux.HandleFunc("DELETE /v1/admin/regex-patterns/{id}", admin(deps.handleRemoveRegexPattern))
	mux.HandleFunc("GET /v1/admin/context-rules", admin(deps.handleListContextRules))
	mux.HandleFunc("PUT /v1/admin/context-rules", admin(deps.handlePutContextRule))
	mux.HandleFunc("DELETE /v1/admin/context-rules/{trigger}", admin(deps.handleRemoveContextRule))
	mux.HandleFunc("POST /v1/admin/rules/reload", admin(deps.handleReloadRules))

	// Sanctions
	mux.HandleFunc("GET /v1/admin/sanctions", admin(deps.handleListSanctions))
	mux.HandleFunc("GET /v1/admin/sanctions/{user_id}", admin(deps.handleGetSanction))
	mux.HandleFunc("POST /v1/admin/sanctions/{user_id}/ban", admin(deps.handleBanUser))
	mux.HandleFunc("POST /v1/admin/sanctions/{user_id}/restrict", admin(deps.handleRestrictUser))
	mux.HandleFunc("DELETE /v1/admin/sanctions/{user_id}", admin(deps.handleUnbanUser))

	// Warnings & violations
	mux.HandleFunc("GET /v1/admin/warnings", admin(deps.handleListAllWarnings))
	mux.HandleFunc("GET /v1/admin/warnings/{user_id}", admin(deps.handleGetUserWarnings))
	mux.HandleFunc("DELETE /v1/admin/warnings/{user_id}", admin(deps.handleClearUserWarnings))
	mux.HandleFunc("DELETE /v1/admin/warnings/{user_id}/{id}", admin(deps.handleRemoveUserWarning))
	mux.HandleFunc("GET /v1/admin/violations/{user_id}", admin(deps.handleGetUserViolations))

	// Events & Analytics
	mux.HandleFunc("GET /v1/admin/events", admin(deps.handleListEvents))
	mux.HandleFunc("GET /v1/admin/analytics", admin(deps.handleGetAnalytics))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger), deps.AllowedOrigins)
}
