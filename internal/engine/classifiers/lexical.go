// Package classifiers provides engine.Classifier implementations: a gRPC
// client for a remote scoring model, an in-process lexical scorer, and a
// combinator that merges several of them.
package classifiers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/triage-ai/moderation/internal/engine"
)

type lexicalPattern struct {
	re       *regexp.Regexp
	category string
	score    float32
}

// Pre-compiled lexical patterns. Scores are calibrated against the default
// thresholds: an explicit match clears its group's threshold on its own.
var lexicalPatterns = []lexicalPattern{
	// Child safety
	{regexp.MustCompile(`(?i)\b(child|children|minor|minors|underage|kid|kids|toddler|preteen)\s+(sexual|porn|nude|naked|explicit)\b`), engine.CategoryChildRisk, 0.99},
	{regexp.MustCompile(`(?i)\b(sexual|porn|nude|naked|explicit)\s+(child|children|minor|minors|underage|kid|kids|toddler|preteen)\b`), engine.CategoryChildRisk, 0.99},
	{regexp.MustCompile(`(?i)\b(groom|grooming|seduce|seducing)\s+(a\s+)?(child|minor|kid|teen)\b`), engine.CategoryChildRisk, 0.95},

	// Sexual
	{regexp.MustCompile(`(?i)\b(porn|pornography|pornographic|hardcore\s+sex|explicit\s+sex(ual)?\s+(scene|content|story))\b`), engine.CategorySexual, 0.9},
	{regexp.MustCompile(`(?i)\b(write|describe|generate)\s+(an?\s+)?(erotic|sexual|nsfw)\b`), engine.CategorySexual, 0.85},

	// Violence
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(make|build|create|construct)\s+(a\s+)?(bomb|explosive|pipe\s+bomb)\b`), engine.CategoryViolence, 0.95},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(kill|murder|assassinate|poison)\s+(a\s+)?(person|someone|people|human)\b`), engine.CategoryViolence, 0.95},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)(commit\s+suicide|kill\s+(myself|yourself)|end\s+(my|your)\s+life)\b`), engine.CategoryViolence, 0.9},

	// Threats
	{regexp.MustCompile(`(?i)\bi\s+(will|am\s+going\s+to|'m\s+going\s+to)\s+(kill|hurt|shoot|stab)\s+(you|him|her|them)\b`), engine.CategoryThreat, 0.95},

	// Insults and toxicity
	{regexp.MustCompile(`(?i)\byou\s+(are\s+)?(an?\s+)?(worthless|pathetic|stupid|idiot|moron|loser)\b`), engine.CategoryInsult, 0.92},
	{regexp.MustCompile(`(?i)\b(shut\s+up|go\s+to\s+hell|drop\s+dead)\b`), engine.CategoryToxic, 0.96},

	// Hate
	{regexp.MustCompile(`(?i)\b(all|those)\s+\w+\s+(should\s+(die|be\s+exterminated)|are\s+(vermin|subhuman|animals))\b`), engine.CategoryIdentityHate, 0.9},
}

// sensitiveCategories are the only scores reported in sensitive-context mode.
var sensitiveCategories = map[string]bool{
	engine.CategoryChildRisk: true,
	engine.CategorySexual:    true,
	engine.CategoryToxic:     true,
}

// LexicalClassifier scores text with fixed patterns. It runs in-process, so
// it never fails; it backs the remote model or stands in when none is set.
type LexicalClassifier struct{}

func NewLexicalClassifier() *LexicalClassifier {
	return &LexicalClassifier{}
}

func (c *LexicalClassifier) Name() string {
	return "lexical"
}

func (c *LexicalClassifier) Classify(ctx context.Context, req *engine.ClassifyRequest) (*engine.Classification, error) {
	start := time.Now()
	text := strings.ToLower(req.Text)
	scores := make(map[string]float32)

	for _, p := range lexicalPatterns {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if req.Mode == engine.ModeSensitiveContext && !sensitiveCategories[p.category] {
			continue
		}
		if p.score <= scores[p.category] {
			continue
		}
		if p.re.MatchString(text) {
			scores[p.category] = p.score
		}
	}

	return &engine.Classification{
		Scores:  scores,
		Model:   c.Name(),
		Latency: time.Since(start),
	}, nil
}
