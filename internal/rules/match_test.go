package rules

import (
	"errors"
	"slices"
	"testing"
)

func TestContainsTerm(t *testing.T) {
	tests := []struct {
		name string
		text string
		term string
		want bool
	}{
		{"exact", "kill", "kill", true},
		{"inside sentence", "i want to kill time", "kill", true},
		{"prefix of longer word", "killer whales", "kill", false},
		{"suffix of longer word", "overkill", "kill", false},
		{"kidney is not kid", "my kidney hurts", "kid", false},
		{"punctuation boundary", "the kid, again.", "kid", true},
		{"later occurrence matches", "kidney and kid", "kid", true},
		{"phrase", "how to make a pipe bomb today", "pipe bomb", true},
		{"phrase partial word", "pipe bombastic", "pipe bomb", false},
		{"symbol edge", "content for 18+ only", "18+", true},
		{"symbol edge glued", "content 18+plus", "18+", true},
		{"symbol edge digit before", "118+", "18+", false},
		{"underscore is a word rune", "user_kid", "kid", false},
		{"unicode letters", "ein müller kam", "müller", true},
		{"plural", "two kids naked", "kid", true},
		{"plural es", "the boxes here", "box", true},
		{"possessive", "the kid's toy", "kid", true},
		{"plural phrase", "for young adults only", "young adult", true},
		{"other suffix is not an inflection", "kiddo", "kid", false},
		{"empty term", "anything", "", false},
		{"term longer than text", "ki", "kid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsTerm(tt.text, tt.term); got != tt.want {
				t.Errorf("ContainsTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	got, ok := ContainsAny("a young adult novel", []string{"teen", "young adult", "young"})
	if !ok || got != "young adult" {
		t.Fatalf("got %q, %v; want \"young adult\", true", got, ok)
	}
	if _, ok := ContainsAny("nothing here", []string{"teen"}); ok {
		t.Fatal("expected no match")
	}
	if _, ok := ContainsAny("anything", nil); ok {
		t.Fatal("expected no match for empty term list")
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("hello, world! it's 18+ o'clock_now")
	want := []string{"hello", "world", "it", "s", "18", "o", "clock_now"}
	if !slices.Equal(got, want) {
		t.Fatalf("Tokens = %q, want %q", got, want)
	}
	if len(Tokens("  ...  ")) != 0 {
		t.Fatal("expected no tokens from punctuation only")
	}
}

func TestIsSingleToken(t *testing.T) {
	for w, want := range map[string]bool{
		"kid":       true,
		"kid_1":     true,
		"pipe bomb": false,
		"18+":       false,
		"":          false,
	} {
		if got := isSingleToken(w); got != want {
			t.Errorf("isSingleToken(%q) = %v, want %v", w, got, want)
		}
	}
}

func TestSnapshotMatchBannedWord(t *testing.T) {
	s := NewSnapshot([]BannedWord{{Word: "Bomb"}, {Word: "pipe bomb"}, {Word: "18+"}, {Word: "  "}}, nil, nil)

	if w, _, _ := s.Len(); w != 3 {
		t.Fatalf("words = %d, want 3 (blank entry dropped)", w)
	}
	if !s.HasWord("BOMB") {
		t.Fatal("HasWord should be case-insensitive")
	}

	word, ok := s.MatchBannedWord("build a pipe bomb", nil)
	if !ok || word != "bomb" {
		t.Fatalf("got %q, %v; single tokens are checked before phrases", word, ok)
	}

	word, ok = s.MatchBannedWord("adults 18+ only", nil)
	if !ok || word != "18+" {
		t.Fatalf("got %q, %v; want 18+", word, ok)
	}

	_, ok = s.MatchBannedWord("a bomb", func(w string) bool { return w == "bomb" })
	if ok {
		t.Fatal("skipped word must not match")
	}

	word, ok = s.MatchBannedWord("bombs away", nil)
	if !ok || word != "bomb" {
		t.Fatalf("got %q, %v; a plural token should match its singular", word, ok)
	}

	if _, ok := s.MatchBannedWord("bombastic prose", nil); ok {
		t.Fatal("substring of a longer word must not match")
	}
}

func TestBaseForms(t *testing.T) {
	tests := map[string][]string{
		"kids":  {"kids", "kid"},
		"boxes": {"boxes", "boxe", "box"},
		"kid":   {"kid"},
		"s":     {"s"},
	}
	for tok, want := range tests {
		if got := baseForms(tok); !slices.Equal(got, want) {
			t.Errorf("baseForms(%q) = %q, want %q", tok, got, want)
		}
	}
}

func TestSnapshotContextRuleLookup(t *testing.T) {
	s := NewSnapshot(nil, nil, []ContextRule{
		{TriggerWord: "Kid", DisallowedContexts: []string{"naked"}},
		{TriggerWord: "kid", AllowedContexts: []string{"goat"}},
		{TriggerWord: " ", AllowedContexts: []string{"x"}},
	})
	r, ok := s.ContextRule("KID")
	if !ok {
		t.Fatal("expected rule for kid")
	}
	if len(r.AllowedContexts) != 1 || r.AllowedContexts[0] != "goat" {
		t.Fatalf("later rule for the same trigger should win, got %+v", r)
	}
	if _, _, n := s.Len(); n != 1 {
		t.Fatalf("rules = %d, want 1", n)
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		name    string
		in      RegexPattern
		wantErr error
	}{
		{"valid", RegexPattern{Name: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Severity: "HIGH"}, nil},
		{"default severity", RegexPattern{Name: "x", Pattern: "abc"}, nil},
		{"missing name", RegexPattern{Pattern: "abc"}, ErrInvalidPattern},
		{"missing pattern", RegexPattern{Name: "x"}, ErrInvalidPattern},
		{"bad regex", RegexPattern{Name: "x", Pattern: "a(b"}, ErrInvalidPattern},
		{"bad severity", RegexPattern{Name: "x", Pattern: "a", Severity: "urgent"}, ErrInvalidSeverity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, err := CompilePattern(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !IsValidationError(err) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cp.Re == nil || cp.Severity == "" {
				t.Fatalf("incomplete compiled pattern: %+v", cp)
			}
		})
	}

	cp, err := CompilePattern(RegexPattern{Name: "x", Pattern: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Re.MatchString("TOP SECRET") {
		t.Fatal("patterns must match case-insensitively")
	}
	if cp.Severity != SeverityMedium {
		t.Fatalf("severity = %q, want medium", cp.Severity)
	}
}
