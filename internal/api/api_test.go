package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/triage-ai/moderation/internal/auth"
	"github.com/triage-ai/moderation/internal/engine"
	"github.com/triage-ai/moderation/internal/rules"
	"github.com/triage-ai/moderation/internal/store/memstore"
)

const (
	serviceKey = "mdk_service"
	adminKey   = "mdk_admin"
)

// fakeAuth grants roles from a fixed token table.
type fakeAuth map[string]auth.Role

func (f fakeAuth) Authenticate(_ context.Context, token string) (auth.Role, error) {
	if token == "" {
		return auth.RoleNone, auth.ErrMissingAPIKey
	}
	role, ok := f[token]
	if !ok {
		return auth.RoleNone, auth.ErrInvalidAPIKey
	}
	return role, nil
}

func newTestRouter(t *testing.T, origins ...string) http.Handler {
	t.Helper()
	st := memstore.New()
	logger := zap.NewNop()
	eng := engine.New(engine.Config{}, engine.Deps{
		Rules:     rules.NewStore(st, nil, logger),
		Ledger:    st,
		Sanctions: st,
		Logger:    logger,
	})
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return NewRouter(&Dependencies{
		Engine:         eng,
		Auth:           fakeAuth{serviceKey: auth.RoleService, adminKey: auth.RoleAdmin},
		Logger:         logger,
		AllowedOrigins: origins,
	})
}

func do(t *testing.T, h http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"check without key", http.MethodPost, "/v1/moderation/check", "", http.StatusUnauthorized},
		{"check with unknown key", http.MethodPost, "/v1/moderation/check", "mdk_nope", http.StatusUnauthorized},
		{"admin route with service key", http.MethodGet, "/v1/admin/banned-words", serviceKey, http.StatusForbidden},
		{"admin route with admin key", http.MethodGet, "/v1/admin/banned-words", adminKey, http.StatusOK},
		{"admin route without key", http.MethodGet, "/v1/admin/sanctions", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.key, CheckRequest{UserID: "u1", Prompt: "hi"})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuth_AdminKeyCanCheck(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/moderation/check", adminKey, CheckRequest{UserID: "u1", Prompt: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_BcryptKeys(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(serviceKey), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := auth.NewKeyAuthenticator(auth.KeyAuthConfig{ServiceKeyHash: string(hash)})
	require.NoError(t, err)

	st := memstore.New()
	eng := engine.New(engine.Config{}, engine.Deps{
		Rules:     rules.NewStore(st, nil, zap.NewNop()),
		Ledger:    st,
		Sanctions: st,
	})
	h := NewRouter(&Dependencies{Engine: eng, Auth: a, Logger: zap.NewNop(), AllowedOrigins: []string{"*"}})

	rec := do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/admin/sanctions", serviceKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheck_Validation(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "  ", Prompt: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id is required", decode[ErrorResp](t, rec).Detail)
}

func TestCheck_Allowed(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "what is the capital of France"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[CheckResponse](t, rec)
	assert.True(t, resp.Allowed)
	assert.Nil(t, resp.ViolationKind)
	assert.Nil(t, resp.Message)
	assert.NotEmpty(t, resp.RequestID)
}

func TestBannedWordEscalation(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "  Grenade "})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "grenade", decode[rules.BannedWord](t, rec).Word)

	wantActions := []string{"warning", "final_warning", "banned"}
	for i, want := range wantActions {
		rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "how to build a grenade"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[CheckResponse](t, rec)
		assert.False(t, resp.Allowed)
		require.NotNil(t, resp.ViolationKind)
		assert.Equal(t, "banned_word", *resp.ViolationKind)
		require.NotNil(t, resp.Action)
		assert.Equal(t, want, *resp.Action)
		assert.Equal(t, i+1, resp.WarningCount)
	}

	rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "hello"})
	resp := decode[CheckResponse](t, rec)
	assert.False(t, resp.Allowed)
	require.NotNil(t, resp.ViolationKind)
	assert.Equal(t, "banned_user", *resp.ViolationKind)
	assert.Equal(t, engine.BannedMessage, *resp.Message)

	rec = do(t, h, http.MethodGet, "/v1/admin/violations/u1", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]engine.Violation](t, rec), 3)
}

func TestBannedWords_CRUD(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "foo"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "FOO"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/banned-words/import", adminKey, ImportBannedWordsReq{Words: []string{"bar", "foo", "Baz", ""}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ImportBannedWordsResp](t, rec).Imported)

	rec = do(t, h, http.MethodGet, "/v1/admin/banned-words", adminKey, nil)
	words := decode[[]rules.BannedWord](t, rec)
	assert.Len(t, words, 3)

	rec = do(t, h, http.MethodDelete, "/v1/admin/banned-words/foo", adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/admin/banned-words/foo", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegexPatterns_CRUD(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/admin/regex-patterns", adminKey, AddRegexPatternReq{Name: "bad", Pattern: "(unclosed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/regex-patterns", adminKey, AddRegexPatternReq{Name: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Severity: "extreme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/regex-patterns", adminKey, AddRegexPatternReq{Name: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Severity: "HIGH"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[rules.RegexPattern](t, rec)
	assert.Equal(t, rules.SeverityHigh, p.Severity)

	rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u2", Prompt: "my ssn is 123-45-6789"})
	resp := decode[CheckResponse](t, rec)
	require.NotNil(t, resp.ViolationKind)
	assert.Equal(t, "regex_pattern", *resp.ViolationKind)

	rec = do(t, h, http.MethodDelete, "/v1/admin/regex-patterns/abc", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/admin/regex-patterns/9999", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/admin/regex-patterns", adminKey, nil)
	assert.Len(t, decode[[]rules.RegexPattern](t, rec), 1)
}

func TestContextRules_Upsert(t *testing.T) {
	h := newTestRouter(t)

	rule := ContextRuleReq{
		TriggerWord:        "Naked",
		AllowedContexts:    []string{"art class"},
		DisallowedContexts: []string{"kid"},
	}
	rec := do(t, h, http.MethodPut, "/v1/admin/context-rules", adminKey, rule)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[rules.ContextRule](t, rec)
	assert.Equal(t, "naked", first.TriggerWord)

	rule.TriggerWord = "NAKED"
	rule.Description = "updated"
	rec = do(t, h, http.MethodPut, "/v1/admin/context-rules", adminKey, rule)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[rules.ContextRule](t, rec)
	assert.Equal(t, first.ID, second.ID)

	rec = do(t, h, http.MethodGet, "/v1/admin/context-rules", adminKey, nil)
	assert.Len(t, decode[[]rules.ContextRule](t, rec), 1)

	rec = do(t, h, http.MethodPut, "/v1/admin/context-rules", adminKey, ContextRuleReq{TriggerWord: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/rules/reload", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["context_rules"])

	rec = do(t, h, http.MethodDelete, "/v1/admin/context-rules/Naked", adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSanctions(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/admin/sanctions/u1/ban", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ban := decode[BanInfoResp](t, rec)
	assert.True(t, ban.IsPermanent)
	assert.Equal(t, "permanent", ban.Status)
	assert.Nil(t, ban.ExpiresAt)
	assert.Nil(t, ban.TimeRemainingSeconds)
	assert.Equal(t, "Manual action by administrator", ban.Reason)

	rec = do(t, h, http.MethodPost, "/v1/admin/sanctions/u2/restrict", adminKey, SanctionReq{Reason: "spam"})
	require.Equal(t, http.StatusOK, rec.Code)
	restr := decode[BanInfoResp](t, rec)
	assert.False(t, restr.IsPermanent)
	assert.Equal(t, "active_restriction", restr.Status)
	require.NotNil(t, restr.TimeRemainingSeconds)
	assert.Greater(t, *restr.TimeRemainingSeconds, int64(0))

	rec = do(t, h, http.MethodGet, "/v1/admin/sanctions", adminKey, nil)
	assert.Len(t, decode[[]BanInfoResp](t, rec), 2)

	rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u2", Prompt: "hi"})
	assert.False(t, decode[CheckResponse](t, rec).Allowed)

	rec = do(t, h, http.MethodDelete, "/v1/admin/sanctions/u2", adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/admin/sanctions/u2", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/admin/sanctions/u2", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u2", Prompt: "hi"})
	assert.True(t, decode[CheckResponse](t, rec).Allowed)

	rec = do(t, h, http.MethodPost, "/v1/admin/sanctions/u3/ban", adminKey, "{bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarnings(t *testing.T) {
	h := newTestRouter(t)
	do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "foo"})
	do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "foo"})
	do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u2", Prompt: "foo"})

	rec := do(t, h, http.MethodGet, "/v1/admin/warnings/u1", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode[[]engine.Warning](t, rec)
	require.Len(t, ws, 1)
	assert.Equal(t, "banned_word:foo", ws[0].Word)

	rec = do(t, h, http.MethodGet, "/v1/admin/warnings?tag_prefix=banned_word:", adminKey, nil)
	assert.Len(t, decode[[]engine.Warning](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/v1/admin/warnings?since=yesterday", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/admin/warnings/u1", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[ClearWarningsResp](t, rec).Removed)

	rec = do(t, h, http.MethodGet, "/v1/admin/warnings/u1", adminKey, nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestRemoveSingleWarning(t *testing.T) {
	h := newTestRouter(t)
	do(t, h, http.MethodPost, "/v1/admin/banned-words", adminKey, AddBannedWordReq{Word: "foo"})
	do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "foo"})
	do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "foo"})

	ws := decode[[]engine.Warning](t, do(t, h, http.MethodGet, "/v1/admin/warnings/u1", adminKey, nil))
	require.Len(t, ws, 2)
	path := fmt.Sprintf("/v1/admin/warnings/u1/%d", ws[0].ID)

	rec := do(t, h, http.MethodDelete, fmt.Sprintf("/v1/admin/warnings/u2/%d", ws[0].ID), adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "warning belongs to another user")

	rec = do(t, h, http.MethodDelete, path, serviceKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodDelete, path, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, path, adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/admin/warnings/u1/abc", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	left := decode[[]engine.Warning](t, do(t, h, http.MethodGet, "/v1/admin/warnings/u1", adminKey, nil))
	require.Len(t, left, 1)
	assert.Equal(t, ws[1].ID, left[0].ID)

	// One warning left, so the next violation is the final warning, not a sanction.
	res := decode[CheckResponse](t, do(t, h, http.MethodPost, "/v1/moderation/check", serviceKey, CheckRequest{UserID: "u1", Prompt: "foo"}))
	require.NotNil(t, res.Action)
	assert.Equal(t, "final_warning", *res.Action)
}

func TestEvents_NoClickHouse(t *testing.T) {
	h := newTestRouter(t)
	for _, path := range []string{"/v1/admin/events", "/v1/admin/analytics"} {
		rec := do(t, h, http.MethodGet, path, adminKey, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestCORS(t *testing.T) {
	h := newTestRouter(t, "https://console.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/v1/moderation/check", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/moderation/check", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
