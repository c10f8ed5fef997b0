package engine

import (
	"fmt"

	"github.com/triage-ai/moderation/internal/rules"
)

// evaluateRules runs context rules, then banned words, then regex patterns
// against the prompt and returns the first violation. lowered is the
// normalized prompt; patterns run on the original text case-insensitively.
func evaluateRules(snap *rules.Snapshot, prompt, lowered string) *Finding {
	if f := evaluateContextRules(snap, lowered); f != nil {
		return f
	}
	if f := evaluateBannedWords(snap, lowered); f != nil {
		return f
	}
	return evaluatePatterns(snap, prompt)
}

func evaluateContextRules(snap *rules.Snapshot, lowered string) *Finding {
	for _, r := range snap.ContextRules() {
		if !rules.ContainsTerm(lowered, r.TriggerWord) {
			continue
		}
		if _, ok := rules.ContainsAny(lowered, r.AllowedContexts); ok {
			continue
		}
		if ctx, ok := rules.ContainsAny(lowered, r.DisallowedContexts); ok {
			return &Finding{
				Kind:    KindContextRule,
				Details: fmt.Sprintf("%s with disallowed context: %s", r.TriggerWord, ctx),
				Tag:     "context:" + r.TriggerWord,
				Label:   fmt.Sprintf("'%s' used in a disallowed context", r.TriggerWord),
			}
		}
		if len(r.AllowedContexts) > 0 {
			return &Finding{
				Kind:    KindContextRule,
				Details: fmt.Sprintf("%s without allowed context", r.TriggerWord),
				Tag:     "context:" + r.TriggerWord,
				Label:   fmt.Sprintf("'%s' used without an allowed context", r.TriggerWord),
			}
		}
	}
	return nil
}

// evaluateBannedWords skips a banned word that is also a context rule trigger
// with one of its allowed contexts present.
func evaluateBannedWords(snap *rules.Snapshot, lowered string) *Finding {
	exempt := func(word string) bool {
		r, ok := snap.ContextRule(word)
		if !ok {
			return false
		}
		_, allowed := rules.ContainsAny(lowered, r.AllowedContexts)
		return allowed
	}
	word, ok := snap.MatchBannedWord(lowered, exempt)
	if !ok {
		return nil
	}
	return &Finding{
		Kind:    KindBannedWord,
		Details: word,
		Tag:     "banned_word:" + word,
		Label:   fmt.Sprintf("the banned word '%s'", word),
	}
}

func evaluatePatterns(snap *rules.Snapshot, prompt string) *Finding {
	for _, p := range snap.Patterns() {
		loc := p.Re.FindStringIndex(prompt)
		if loc == nil {
			continue
		}
		return &Finding{
			Kind:    KindRegexPattern,
			Details: fmt.Sprintf("%s: %s", p.Name, prompt[loc[0]:loc[1]]),
			Tag:     "regex:" + p.Name,
			Label:   fmt.Sprintf("content matching the '%s' filter", p.Name),
		}
	}
	return nil
}
