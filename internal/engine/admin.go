package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/rules"
)

// Rule administration. Callers are responsible for authorizing these.

func (e *Engine) AddBannedWord(ctx context.Context, word string) (rules.BannedWord, error) {
	return e.rules.AddWord(ctx, word)
}

func (e *Engine) ImportBannedWords(ctx context.Context, words []string) (int, error) {
	return e.rules.ImportWords(ctx, words)
}

func (e *Engine) RemoveBannedWord(ctx context.Context, word string) error {
	return e.rules.RemoveWord(ctx, word)
}

func (e *Engine) ListBannedWords() []rules.BannedWord {
	return e.rules.Snapshot().BannedWords()
}

// AddRegexPattern rejects patterns that do not compile before storing anything.
func (e *Engine) AddRegexPattern(ctx context.Context, p rules.RegexPattern) (rules.RegexPattern, error) {
	return e.rules.AddPattern(ctx, p)
}

func (e *Engine) RemoveRegexPattern(ctx context.Context, id int64) error {
	return e.rules.RemovePattern(ctx, id)
}

func (e *Engine) ListRegexPatterns() []rules.RegexPattern {
	compiled := e.rules.Snapshot().Patterns()
	out := make([]rules.RegexPattern, 0, len(compiled))
	for _, p := range compiled {
		out = append(out, p.RegexPattern)
	}
	return out
}

// AddContextRule upserts by trigger word, case-insensitively.
func (e *Engine) AddContextRule(ctx context.Context, r rules.ContextRule) (rules.ContextRule, error) {
	return e.rules.PutContextRule(ctx, r)
}

func (e *Engine) RemoveContextRule(ctx context.Context, trigger string) error {
	return e.rules.RemoveContextRule(ctx, trigger)
}

func (e *Engine) ListContextRules() []rules.ContextRule {
	return e.rules.Snapshot().ContextRules()
}

// ReloadRules re-reads the rule repository and republishes the snapshot.
func (e *Engine) ReloadRules(ctx context.Context) error {
	return e.rules.Reload(ctx)
}

// BanUser permanently bans a user, replacing any existing sanction.
func (e *Engine) BanUser(ctx context.Context, userID, reason string) (Sanction, error) {
	return e.putSanction(ctx, userID, reason, true)
}

// TempRestrictUser restricts a user for the policy's restriction duration,
// replacing any existing sanction.
func (e *Engine) TempRestrictUser(ctx context.Context, userID, reason string) (Sanction, error) {
	return e.putSanction(ctx, userID, reason, false)
}

func (e *Engine) putSanction(ctx context.Context, userID, reason string, permanent bool) (Sanction, error) {
	if strings.TrimSpace(userID) == "" {
		return Sanction{}, ErrEmptyUserID
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Manual action by administrator"
	}

	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return Sanction{}, fmt.Errorf("putSanction: lock user: %w", err)
	}
	defer unlock()

	now := e.cfg.Now()
	s := Sanction{UserID: userID, Reason: reason, BannedAt: now, IsPermanent: permanent}
	action := ActionBanned
	if !permanent {
		expires := now.Add(e.cfg.Policy.RestrictionDuration)
		s.ExpiresAt = &expires
		action = ActionTempRestricted
	}
	if err := e.sanctions.PutSanction(ctx, s); err != nil {
		return Sanction{}, fmt.Errorf("putSanction: %w", err)
	}
	enforcementActions.WithLabelValues(string(action)).Inc()
	e.logger.Info("user sanctioned by administrator",
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.String("reason", reason),
	)
	return s, nil
}

// UnbanUser removes the user's sanction. Warnings are left untouched; clearing
// them is a separate action. It reports whether a sanction existed.
func (e *Engine) UnbanUser(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrEmptyUserID
	}
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("UnbanUser: lock user: %w", err)
	}
	defer unlock()

	removed, err := e.sanctions.DeleteSanction(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("UnbanUser: %w", err)
	}
	if removed {
		e.logger.Info("user unbanned", zap.String("user_id", userID))
	}
	return removed, nil
}

// GetBanInfo returns the user's sanction without lifting it, or nil if none.
func (e *Engine) GetBanInfo(ctx context.Context, userID string) (*BanInfo, error) {
	s, err := e.sanctions.GetSanction(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetBanInfo: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	info := newBanInfo(*s, e.cfg.Now())
	return &info, nil
}

// ListBannedUsers returns every sanction row with its current status.
func (e *Engine) ListBannedUsers(ctx context.Context) ([]BanInfo, error) {
	list, err := e.sanctions.ListSanctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListBannedUsers: %w", err)
	}
	now := e.cfg.Now()
	out := make([]BanInfo, 0, len(list))
	for _, s := range list {
		out = append(out, newBanInfo(s, now))
	}
	return out, nil
}

func (e *Engine) GetUserWarnings(ctx context.Context, userID string) ([]Warning, error) {
	w, err := e.ledger.ListWarnings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetUserWarnings: %w", err)
	}
	return w, nil
}

// GetUserViolations returns the user's recorded violations, newest first.
func (e *Engine) GetUserViolations(ctx context.Context, userID string, limit int) ([]Violation, error) {
	v, err := e.ledger.ListViolations(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("GetUserViolations: %w", err)
	}
	return v, nil
}

// RemoveAllUserWarnings resets the user to zero warnings and returns how many were removed.
func (e *Engine) RemoveAllUserWarnings(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrEmptyUserID
	}
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("RemoveAllUserWarnings: lock user: %w", err)
	}
	defer unlock()

	n, err := e.ledger.ClearWarnings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("RemoveAllUserWarnings: %w", err)
	}
	e.logger.Info("user warnings cleared",
		zap.String("user_id", userID),
		zap.Int64("removed", n),
	)
	return n, nil
}

// RemoveUserWarning deletes a single warning, lowering the user's count by one.
// It reports whether the warning existed.
func (e *Engine) RemoveUserWarning(ctx context.Context, userID string, id int64) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrEmptyUserID
	}
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("RemoveUserWarning: lock user: %w", err)
	}
	defer unlock()

	removed, err := e.ledger.RemoveWarning(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("RemoveUserWarning: %w", err)
	}
	if removed {
		e.logger.Info("user warning removed",
			zap.String("user_id", userID),
			zap.Int64("warning_id", id),
		)
	}
	return removed, nil
}

func (e *Engine) ListAllWarnings(ctx context.Context, filter WarningFilter) ([]Warning, error) {
	w, err := e.ledger.ListAllWarnings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ListAllWarnings: %w", err)
	}
	return w, nil
}

// RuleCounts reports the size of the published rule set.
func (e *Engine) RuleCounts() (words, patterns, contextRules int) {
	return e.rules.Snapshot().Len()
}
