package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/rules"
)

// writeRuleError maps rule store errors onto HTTP statuses.
func (d *Dependencies) writeRuleError(w http.ResponseWriter, err error, op string) {
	switch {
	case rules.IsValidationError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	case errors.Is(err, rules.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found."})
	case errors.Is(err, rules.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Rule already exists."})
	default:
		d.Logger.Error("rule operation failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to " + op})
	}
}

func (d *Dependencies) handleListBannedWords(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Engine.ListBannedWords())
}

func (d *Dependencies) handleAddBannedWord(w http.ResponseWriter, r *http.Request) {
	var req AddBannedWordReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	bw, err := d.Engine.AddBannedWord(r.Context(), req.Word)
	if err != nil {
		d.writeRuleError(w, err, "add banned word")
		return
	}
	writeJSON(w, http.StatusCreated, bw)
}

func (d *Dependencies) handleImportBannedWords(w http.ResponseWriter, r *http.Request) {
	var req ImportBannedWordsReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	n, err := d.Engine.ImportBannedWords(r.Context(), req.Words)
	if err != nil {
		d.writeRuleError(w, err, "import banned words")
		return
	}
	writeJSON(w, http.StatusOK, ImportBannedWordsResp{Imported: n})
}

func (d *Dependencies) handleRemoveBannedWord(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.RemoveBannedWord(r.Context(), r.PathValue("word")); err != nil {
		d.writeRuleError(w, err, "remove banned word")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleListRegexPatterns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Engine.ListRegexPatterns())
}

func (d *Dependencies) handleAddRegexPattern(w http.ResponseWriter, r *http.Request) {
	var req AddRegexPatternReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	p, err := d.Engine.AddRegexPattern(r.Context(), rules.RegexPattern{
		Name:        req.Name,
		Pattern:     req.Pattern,
		Description: req.Description,
		Severity:    rules.Severity(req.Severity),
	})
	if err != nil {
		d.writeRuleError(w, err, "add regex pattern")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (d *Dependencies) handleRemoveRegexPattern(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "id must be an integer"})
		return
	}
	if err := d.Engine.RemoveRegexPattern(r.Context(), id); err != nil {
		d.writeRuleError(w, err, "remove regex pattern")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleListContextRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Engine.ListContextRules())
}

func (d *Dependencies) handlePutContextRule(w http.ResponseWriter, r *http.Request) {
	var req ContextRuleReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	rule, err := d.Engine.AddContextRule(r.Context(), rules.ContextRule{
		TriggerWord:        req.TriggerWord,
		AllowedContexts:    req.AllowedContexts,
		DisallowedContexts: req.DisallowedContexts,
		Description:        req.Description,
	})
	if err != nil {
		d.writeRuleError(w, err, "save context rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *Dependencies) handleRemoveContextRule(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.RemoveContextRule(r.Context(), r.PathValue("trigger")); err != nil {
		d.writeRuleError(w, err, "remove context rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.ReloadRules(r.Context()); err != nil {
		d.Logger.Error("failed to reload rules", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to reload rules"})
		return
	}
	words, patterns, ctxRules := d.Engine.RuleCounts()
	writeJSON(w, http.StatusOK, map[string]int{
		"banned_words":   words,
		"regex_patterns": patterns,
		"context_rules":  ctxRules,
	})
}
