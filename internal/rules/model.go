package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrEmptyWord          = errors.New("banned word must not be empty")
	ErrInvalidPattern     = errors.New("invalid regex pattern")
	ErrInvalidSeverity    = errors.New("severity must be one of high, medium, low")
	ErrInvalidContextRule = errors.New("invalid context rule")
	ErrNotFound           = errors.New("rule not found")
	ErrAlreadyExists      = errors.New("rule already exists")
)

// Severity grades a regex pattern. It is informational only: any match blocks.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity accepts "high", "medium" or "low" in any case.
// An empty string defaults to medium.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return SeverityHigh, nil
	case "medium", "":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
}

// BannedWord is a lowercased, trimmed term that blocks any prompt containing it.
type BannedWord struct {
	Word    string    `json:"word"`
	AddedAt time.Time `json:"added_at"`
}

// RegexPattern is an admin-defined pattern. Pattern always compiles;
// invalid patterns are rejected before they reach the store.
type RegexPattern struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Pattern     string    `json:"pattern"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	AddedAt     time.Time `json:"added_at"`
}

// ContextRule gates a trigger word on the phrases that appear alongside it.
//
// An allowed context wins over everything else. With no allowed context
// present, a disallowed context is a violation. A rule with allowed contexts
// and none of them present is also a violation (allow-list mode); a rule with
// only disallowed contexts lets the trigger through otherwise (block-list mode).
type ContextRule struct {
	ID                 int64     `json:"id"`
	TriggerWord        string    `json:"trigger_word"`
	AllowedContexts    []string  `json:"allowed_contexts"`
	DisallowedContexts []string  `json:"disallowed_contexts"`
	Description        string    `json:"description"`
	AddedAt            time.Time `json:"added_at"`
}

// CompiledPattern pairs a stored pattern with its compiled, case-insensitive regexp.
type CompiledPattern struct {
	RegexPattern
	Re *regexp.Regexp
}

// NormalizeWord lowercases, trims and collapses inner whitespace.
func NormalizeWord(w string) string {
	return strings.Join(strings.Fields(strings.ToLower(w)), " ")
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		n := NormalizeWord(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Normalize returns a copy of the rule with the trigger and every context
// normalized and deduplicated.
func (r ContextRule) Normalize() ContextRule {
	r.TriggerWord = NormalizeWord(r.TriggerWord)
	r.AllowedContexts = normalizeList(r.AllowedContexts)
	r.DisallowedContexts = normalizeList(r.DisallowedContexts)
	r.Description = strings.TrimSpace(r.Description)
	return r
}

// Validate expects a normalized rule.
func (r ContextRule) Validate() error {
	if r.TriggerWord == "" {
		return fmt.Errorf("%w: trigger word is required", ErrInvalidContextRule)
	}
	if len(r.AllowedContexts) == 0 && len(r.DisallowedContexts) == 0 {
		return fmt.Errorf("%w: at least one allowed or disallowed context is required", ErrInvalidContextRule)
	}
	return nil
}

// CompilePattern validates severity and compiles the pattern case-insensitively.
func CompilePattern(p RegexPattern) (CompiledPattern, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return CompiledPattern{}, fmt.Errorf("%w: name is required", ErrInvalidPattern)
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return CompiledPattern{}, fmt.Errorf("%w: pattern is required", ErrInvalidPattern)
	}
	sev, err := ParseSeverity(string(p.Severity))
	if err != nil {
		return CompiledPattern{}, err
	}
	p.Severity = sev

	re, err := regexp.Compile("(?i)" + p.Pattern)
	if err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return CompiledPattern{RegexPattern: p, Re: re}, nil
}

// IsValidationError reports whether err is caused by bad admin input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyWord) ||
		errors.Is(err, ErrInvalidPattern) ||
		errors.Is(err, ErrInvalidSeverity) ||
		errors.Is(err, ErrInvalidContextRule)
}
