package rules

import (
	"slices"
	"sort"
)

// Snapshot is an immutable view of the rule set. A new Snapshot is built
// for every mutation and swapped in whole, so readers never see a partial update.
type Snapshot struct {
	words    map[string]BannedWord
	phrases  []string // banned words that are not a single token, sorted
	patterns []CompiledPattern
	rules    []ContextRule // sorted by trigger word
	triggers map[string]int
}

// NewSnapshot builds a snapshot. Patterns are expected to be compiled already;
// context rules are normalized and later duplicates of a trigger replace earlier ones.
func NewSnapshot(words []BannedWord, patterns []CompiledPattern, rules []ContextRule) *Snapshot {
	s := &Snapshot{
		words:    make(map[string]BannedWord, len(words)),
		patterns: slices.Clone(patterns),
		triggers: make(map[string]int, len(rules)),
	}
	for _, w := range words {
		w.Word = NormalizeWord(w.Word)
		if w.Word == "" {
			continue
		}
		s.words[w.Word] = w
	}
	for w := range s.words {
		if !isSingleToken(w) {
			s.phrases = append(s.phrases, w)
		}
	}
	sort.Strings(s.phrases)

	byTrigger := make(map[string]ContextRule, len(rules))
	for _, r := range rules {
		r = r.Normalize()
		if r.TriggerWord == "" {
			continue
		}
		byTrigger[r.TriggerWord] = r
	}
	s.rules = make([]ContextRule, 0, len(byTrigger))
	for _, r := range byTrigger {
		s.rules = append(s.rules, r)
	}
	sort.Slice(s.rules, func(i, j int) bool { return s.rules[i].TriggerWord < s.rules[j].TriggerWord })
	for i, r := range s.rules {
		s.triggers[r.TriggerWord] = i
	}
	sort.SliceStable(s.patterns, func(i, j int) bool { return s.patterns[i].ID < s.patterns[j].ID })
	return s
}

// EmptySnapshot has no rules.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil, nil, nil)
}

// HasWord reports whether w (in any case) is a banned word.
func (s *Snapshot) HasWord(w string) bool {
	_, ok := s.words[NormalizeWord(w)]
	return ok
}

// BannedWords returns all banned words sorted alphabetically.
func (s *Snapshot) BannedWords() []BannedWord {
	out := make([]BannedWord, 0, len(s.words))
	for _, w := range s.words {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	return out
}

// WordList returns the sorted banned word strings.
func (s *Snapshot) WordList() []string {
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// MatchBannedWord returns the first banned word found in the lowercased text.
// Single-token words are found by token lookup in text order, where a plural
// token also matches its singular. Multi-token words are then scanned
// alphabetically. skip lets the caller exempt a word.
func (s *Snapshot) MatchBannedWord(text string, skip func(word string) bool) (string, bool) {
	for _, tok := range Tokens(text) {
		for _, w := range baseForms(tok) {
			if _, ok := s.words[w]; ok && (skip == nil || !skip(w)) {
				return w, true
			}
		}
	}
	for _, p := range s.phrases {
		if ContainsTerm(text, p) && (skip == nil || !skip(p)) {
			return p, true
		}
	}
	return "", false
}

// Patterns returns the compiled regex patterns ordered by id.
func (s *Snapshot) Patterns() []CompiledPattern {
	return s.patterns
}

// ContextRules returns the context rules ordered by trigger word.
func (s *Snapshot) ContextRules() []ContextRule {
	return s.rules
}

// ContextRule looks up a rule by trigger word, case-insensitively.
func (s *Snapshot) ContextRule(trigger string) (ContextRule, bool) {
	i, ok := s.triggers[NormalizeWord(trigger)]
	if !ok {
		return ContextRule{}, false
	}
	return s.rules[i], true
}

// Len returns the number of words, patterns and context rules.
func (s *Snapshot) Len() (words, patterns, rules int) {
	return len(s.words), len(s.patterns), len(s.rules)
}

func (s *Snapshot) withWords(add []BannedWord, remove string) *Snapshot {
	words := make([]BannedWord, 0, len(s.words)+len(add))
	for w, bw := range s.words {
		if w == remove {
			continue
		}
		words = append(words, bw)
	}
	words = append(words, add...)
	return NewSnapshot(words, s.patterns, s.rules)
}

func (s *Snapshot) withPatterns(add *CompiledPattern, removeID int64) *Snapshot {
	patterns := make([]CompiledPattern, 0, len(s.patterns)+1)
	for _, p := range s.patterns {
		if p.ID == removeID {
			continue
		}
		patterns = append(patterns, p)
	}
	if add != nil {
		patterns = append(patterns, *add)
	}
	return NewSnapshot(s.BannedWords(), patterns, s.rules)
}

func (s *Snapshot) withRule(put *ContextRule, remove string) *Snapshot {
	rules := make([]ContextRule, 0, len(s.rules)+1)
	for _, r := range s.rules {
		if r.TriggerWord == remove || (put != nil && r.TriggerWord == put.TriggerWord) {
			continue
		}
		rules = append(rules, r)
	}
	if put != nil {
		rules = append(rules, *put)
	}
	return NewSnapshot(s.BannedWords(), s.patterns, rules)
}
