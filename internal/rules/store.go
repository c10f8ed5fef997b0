package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Repository is the durable backing for the rule set.
// Implementations return ErrAlreadyExists and ErrNotFound where noted.
type Repository interface {
	ListBannedWords(ctx context.Context) ([]BannedWord, error)
	// AddBannedWord returns ErrAlreadyExists if the word is present.
	AddBannedWord(ctx context.Context, word string) (BannedWord, error)
	// AddBannedWords inserts all words in one transaction, skipping existing ones,
	// and returns the rows actually inserted.
	AddBannedWords(ctx context.Context, words []string) ([]BannedWord, error)
	// RemoveBannedWord returns ErrNotFound if the word is absent.
	RemoveBannedWord(ctx context.Context, word string) error

	ListRegexPatterns(ctx context.Context) ([]RegexPattern, error)
	AddRegexPattern(ctx context.Context, p RegexPattern) (RegexPattern, error)
	// RemoveRegexPattern returns ErrNotFound if no pattern has the id.
	RemoveRegexPattern(ctx context.Context, id int64) error

	ListContextRules(ctx context.Context) ([]ContextRule, error)
	// UpsertContextRule inserts or replaces the rule keyed by trigger word.
	UpsertContextRule(ctx context.Context, r ContextRule) (ContextRule, error)
	// RemoveContextRule returns ErrNotFound if no rule has the trigger.
	RemoveContextRule(ctx context.Context, trigger string) error
}

// Store serves the current rule snapshot to checks and applies admin mutations.
// Reads are lock-free; mutations are serialized and publish a fresh snapshot
// after the repository write succeeds, then mirror it to the recovery file.
type Store struct {
	repo   Repository
	file   *SnapshotFile // nil disables the recovery mirror
	logger *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store that serves an empty rule set until Reconcile or Reload runs.
func NewStore(repo Repository, file *SnapshotFile, logger *zap.Logger) *Store {
	s := &Store{repo: repo, file: file, logger: logger}
	s.publish(EmptySnapshot())
	return s
}

// Snapshot returns the currently published rule set.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reconcile brings the repository and the recovery file into agreement at startup.
// A section (banned words or context rules) that is empty in the repository is
// restored from the file. Otherwise the repository wins and the file is rewritten.
// Running it twice with no mutation in between leaves both sides unchanged.
func (s *Store) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		ruleLoadFailures.Inc()
		s.logger.Error("rule load failed, serving without rules (fail-open)", zap.Error(err))
		return fmt.Errorf("Reconcile: %w", err)
	}

	if s.file != nil {
		doc, err := s.file.Read()
		if err != nil {
			s.logger.Warn("recovery snapshot unreadable, it will be rewritten from the store",
				zap.String("path", s.file.Path()),
				zap.Error(err),
			)
			doc = nil
		}
		if doc != nil {
			imported, err := s.importMissing(ctx, snap, doc)
			if err != nil {
				s.publish(snap)
				return fmt.Errorf("Reconcile: %w", err)
			}
			if imported {
				if snap, err = s.load(ctx); err != nil {
					ruleLoadFailures.Inc()
					s.logger.Error("rule reload after snapshot import failed", zap.Error(err))
					return fmt.Errorf("Reconcile: %w", err)
				}
			}
		}
	}

	s.publish(snap)
	s.syncFile()
	return nil
}

func (s *Store) importMissing(ctx context.Context, snap *Snapshot, doc *SnapshotDocument) (bool, error) {
	words, _, rules := snap.Len()
	imported := false

	if words == 0 && len(doc.BannedWords) > 0 {
		added, err := s.repo.AddBannedWords(ctx, doc.BannedWords)
		if err != nil {
			return false, fmt.Errorf("import banned words: %w", err)
		}
		s.logger.Info("restored banned words from recovery snapshot",
			zap.Int("count", len(added)),
			zap.String("path", s.file.Path()),
		)
		imported = true
	}

	if rules == 0 && len(doc.ContextRules) > 0 {
		for _, r := range doc.Rules() {
			if err := r.Validate(); err != nil {
				s.logger.Warn("skipping invalid context rule in recovery snapshot",
					zap.String("trigger_word", r.TriggerWord),
					zap.Error(err),
				)
				continue
			}
			if _, err := s.repo.UpsertContextRule(ctx, r); err != nil {
				return false, fmt.Errorf("import context rule %q: %w", r.TriggerWord, err)
			}
		}
		s.logger.Info("restored context rules from recovery snapshot",
			zap.Int("count", len(doc.ContextRules)),
			zap.String("path", s.file.Path()),
		)
		imported = true
	}
	return imported, nil
}

// Reload re-reads the repository and republishes. On a read error the
// previous snapshot stays in place.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		ruleLoadFailures.Inc()
		s.logger.Error("rule reload failed, keeping previous rule set", zap.Error(err))
		return fmt.Errorf("Reload: %w", err)
	}
	s.publish(snap)
	s.syncFile()
	return nil
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	words, err := s.repo.ListBannedWords(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.ListRegexPatterns(ctx)
	if err != nil {
		return nil, err
	}
	patterns := make([]CompiledPattern, 0, len(stored))
	for _, p := range stored {
		cp, err := CompilePattern(p)
		if err != nil {
			s.logger.Error("stored regex pattern does not compile, skipping",
				zap.Int64("pattern_id", p.ID),
				zap.String("name", p.Name),
				zap.Error(err),
			)
			continue
		}
		patterns = append(patterns, cp)
	}
	ctxRules, err := s.repo.ListContextRules(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(words, patterns, ctxRules), nil
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	words, patterns, rules := snap.Len()
	ruleSetSize.WithLabelValues("banned_word").Set(float64(words))
	ruleSetSize.WithLabelValues("regex_pattern").Set(float64(patterns))
	ruleSetSize.WithLabelValues("context_rule").Set(float64(rules))
}

// syncFile mirrors the published snapshot. A failure leaves the file one
// mutation behind; the next successful write catches it up.
func (s *Store) syncFile() {
	if s.file == nil {
		return
	}
	changed, err := s.file.Write(DocumentFromSnapshot(s.Snapshot()))
	if err != nil {
		s.logger.Error("failed to write recovery snapshot",
			zap.String("path", s.file.Path()),
			zap.Error(err),
		)
		return
	}
	if changed {
		s.logger.Debug("recovery snapshot updated", zap.String("path", s.file.Path()))
	}
}

// AddWord bans a word.
func (s *Store) AddWord(ctx context.Context, word string) (BannedWord, error) {
	w := NormalizeWord(word)
	if w == "" {
		return BannedWord{}, ErrEmptyWord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bw, err := s.repo.AddBannedWord(ctx, w)
	if err != nil {
		return BannedWord{}, fmt.Errorf("AddWord: %w", err)
	}
	s.publish(s.Snapshot().withWords([]BannedWord{bw}, ""))
	s.syncFile()
	return bw, nil
}

// ImportWords bans many words at once and returns how many were new.
func (s *Store) ImportWords(ctx context.Context, words []string) (int, error) {
	normalized := normalizeList(words)
	if len(normalized) == 0 {
		return 0, ErrEmptyWord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.repo.AddBannedWords(ctx, normalized)
	if err != nil {
		return 0, fmt.Errorf("ImportWords: %w", err)
	}
	s.publish(s.Snapshot().withWords(added, ""))
	s.syncFile()
	return len(added), nil
}

// RemoveWord unbans a word.
func (s *Store) RemoveWord(ctx context.Context, word string) error {
	w := NormalizeWord(word)
	if w == "" {
		return ErrEmptyWord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.RemoveBannedWord(ctx, w); err != nil {
		return fmt.Errorf("RemoveWord: %w", err)
	}
	s.publish(s.Snapshot().withWords(nil, w))
	s.syncFile()
	return nil
}

// AddPattern validates and stores a regex pattern. An invalid pattern is never stored.
func (s *Store) AddPattern(ctx context.Context, p RegexPattern) (RegexPattern, error) {
	cp, err := CompilePattern(p)
	if err != nil {
		return RegexPattern{}, fmt.Errorf("AddPattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.AddRegexPattern(ctx, cp.RegexPattern)
	if err != nil {
		return RegexPattern{}, fmt.Errorf("AddPattern: %w", err)
	}
	cp.RegexPattern = stored
	s.publish(s.Snapshot().withPatterns(&cp, 0))
	return stored, nil
}

// RemovePattern deletes a regex pattern by id.
func (s *Store) RemovePattern(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.RemoveRegexPattern(ctx, id); err != nil {
		return fmt.Errorf("RemovePattern: %w", err)
	}
	s.publish(s.Snapshot().withPatterns(nil, id))
	return nil
}

// PutContextRule inserts or replaces the rule for its trigger word.
func (s *Store) PutContextRule(ctx context.Context, r ContextRule) (ContextRule, error) {
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return ContextRule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.UpsertContextRule(ctx, r)
	if err != nil {
		return ContextRule{}, fmt.Errorf("PutContextRule: %w", err)
	}
	stored = stored.Normalize()
	s.publish(s.Snapshot().withRule(&stored, ""))
	s.syncFile()
	return stored, nil
}

// RemoveContextRule deletes the rule for trigger, case-insensitively.
func (s *Store) RemoveContextRule(ctx context.Context, trigger string) error {
	t := NormalizeWord(trigger)
	if t == "" {
		return fmt.Errorf("%w: trigger word is required", ErrInvalidContextRule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.RemoveContextRule(ctx, t); err != nil {
		return fmt.Errorf("RemoveContextRule: %w", err)
	}
	s.publish(s.Snapshot().withRule(nil, t))
	s.syncFile()
	return nil
}
