// Package memstore is a process-local implementation of the rule repository,
// violation ledger and sanction store. State is lost on restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/triage-ai/moderation/internal/engine"
	"github.com/triage-ai/moderation/internal/rules"
)

var (
	_ rules.Repository     = (*Store)(nil)
	_ engine.Ledger        = (*Store)(nil)
	_ engine.SanctionStore = (*Store)(nil)
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	words    map[string]rules.BannedWord
	patterns map[int64]rules.RegexPattern
	ctxRules map[string]rules.ContextRule

	violations []engine.Violation
	warnings   []engine.Warning
	sanctions  map[string]engine.Sanction

	nextID int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		words:     make(map[string]rules.BannedWord),
		patterns:  make(map[int64]rules.RegexPattern),
		ctxRules:  make(map[string]rules.ContextRule),
		sanctions: make(map[string]engine.Sanction),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- rules.Repository ---

func (s *Store) ListBannedWords(_ context.Context) ([]rules.BannedWord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rules.BannedWord, 0, len(s.words))
	for _, w := range s.words {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	return out, nil
}

func (s *Store) AddBannedWord(_ context.Context, word string) (rules.BannedWord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[word]; ok {
		return rules.BannedWord{}, rules.ErrAlreadyExists
	}
	bw := rules.BannedWord{Word: word, AddedAt: s.now().UTC()}
	s.words[word] = bw
	return bw, nil
}

func (s *Store) AddBannedWords(_ context.Context, words []string) ([]rules.BannedWord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []rules.BannedWord
	now := s.now().UTC()
	for _, w := range words {
		w = rules.NormalizeWord(w)
		if w == "" {
			continue
		}
		if _, ok := s.words[w]; ok {
			continue
		}
		bw := rules.BannedWord{Word: w, AddedAt: now}
		s.words[w] = bw
		added = append(added, bw)
	}
	return added, nil
}

func (s *Store) RemoveBannedWord(_ context.Context, word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[word]; !ok {
		return rules.ErrNotFound
	}
	delete(s.words, word)
	return nil
}

func (s *Store) ListRegexPatterns(_ context.Context) ([]rules.RegexPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rules.RegexPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddRegexPattern(_ context.Context, p rules.RegexPattern) (rules.RegexPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.AddedAt = s.now().UTC()
	s.patterns[p.ID] = p
	return p, nil
}

func (s *Store) RemoveRegexPattern(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patterns[id]; !ok {
		return rules.ErrNotFound
	}
	delete(s.patterns, id)
	return nil
}

func (s *Store) ListContextRules(_ context.Context) ([]rules.ContextRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rules.ContextRule, 0, len(s.ctxRules))
	for _, r := range s.ctxRules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerWord < out[j].TriggerWord })
	return out, nil
}

func (s *Store) UpsertContextRule(_ context.Context, r rules.ContextRule) (rules.ContextRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(r.TriggerWord)
	if existing, ok := s.ctxRules[key]; ok {
		r.ID = existing.ID
	} else {
		r.ID = s.id()
	}
	r.AddedAt = s.now().UTC()
	s.ctxRules[key] = r
	return r, nil
}

func (s *Store) RemoveContextRule(_ context.Context, trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(trigger)
	if _, ok := s.ctxRules[key]; !ok {
		return rules.ErrNotFound
	}
	delete(s.ctxRules, key)
	return nil
}

// --- engine.Ledger ---

func (s *Store) Record(_ context.Context, v engine.Violation, warningTag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.countLocked(v.UserID)
	v.ID = s.id()
	s.violations = append(s.violations, v)
	s.warnings = append(s.warnings, engine.Warning{
		ID:       s.id(),
		UserID:   v.UserID,
		Prompt:   v.Prompt,
		Word:     warningTag,
		WarnedAt: v.Timestamp,
	})
	return prior, nil
}

func (s *Store) countLocked(userID string) int {
	n := 0
	for _, w := range s.warnings {
		if w.UserID == userID {
			n++
		}
	}
	return n
}

func (s *Store) WarningCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(userID), nil
}

func (s *Store) ListWarnings(_ context.Context, userID string) ([]engine.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Warning
	for _, w := range s.warnings {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) ListAllWarnings(_ context.Context, f engine.WarningFilter) ([]engine.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Warning
	for i := len(s.warnings) - 1; i >= 0; i-- {
		w := s.warnings[i]
		if !f.Since.IsZero() && w.WarnedAt.Before(f.Since) {
			continue
		}
		if f.TagPrefix != "" && !strings.HasPrefix(w.Word, f.TagPrefix) {
			continue
		}
		out = append(out, w)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ClearWarnings(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(userID), nil
}

func (s *Store) clearLocked(userID string) int64 {
	kept := s.warnings[:0]
	var removed int64
	for _, w := range s.warnings {
		if w.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, w)
	}
	s.warnings = kept
	return removed
}

func (s *Store) RemoveWarning(_ context.Context, userID string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.warnings {
		if w.ID == id && w.UserID == userID {
			s.warnings = append(s.warnings[:i], s.warnings[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListViolations(_ context.Context, userID string, limit int) ([]engine.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Violation
	for i := len(s.violations) - 1; i >= 0; i-- {
		if s.violations[i].UserID != userID {
			continue
		}
		out = append(out, s.violations[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- engine.SanctionStore ---

func (s *Store) GetSanction(_ context.Context, userID string) (*engine.Sanction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.sanctions[userID]
	if !ok {
		return nil, nil
	}
	return &sn, nil
}

func (s *Store) PutSanction(_ context.Context, sn engine.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sn.IsPermanent {
		sn.ExpiresAt = nil
	}
	s.sanctions[sn.UserID] = sn
	return nil
}

func (s *Store) DeleteSanction(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sanctions[userID]
	delete(s.sanctions, userID)
	return ok, nil
}

func (s *Store) ListSanctions(_ context.Context) ([]engine.Sanction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Sanction, 0, len(s.sanctions))
	for _, sn := range s.sanctions {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BannedAt.After(out[j].BannedAt) })
	return out, nil
}

func (s *Store) ListExpiredSanctions(_ context.Context, now time.Time) ([]engine.Sanction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Sanction
	for _, sn := range s.sanctions {
		if sn.Expired(now) {
			out = append(out, sn)
		}
	}
	return out, nil
}

func (s *Store) LiftExpired(_ context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.sanctions[userID]
	if !ok || !sn.Expired(now) {
		return false, nil
	}
	delete(s.sanctions, userID)
	s.clearLocked(userID)
	return true, nil
}
