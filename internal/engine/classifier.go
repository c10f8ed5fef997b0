package engine

import (
	"context"
	"time"
)

// Classifier is the semantic scoring capability. The engine owns thresholds;
// a Classifier only reports raw per-category scores in [0, 1].
// Implementations must respect context deadlines and return quickly.
type Classifier interface {
	// Name returns the classifier's identifier (e.g., "ml_classifier").
	Name() string

	// Classify scores the request text. Must respect ctx deadline.
	Classify(ctx context.Context, req *ClassifyRequest) (*Classification, error)
}

// ClassifyMode selects which check the classifier is asked to run.
type ClassifyMode int

const (
	ModeGeneral ClassifyMode = iota + 1
	ModeSensitiveContext
)

// String returns the wire name of the mode.
func (m ClassifyMode) String() string {
	switch m {
	case ModeGeneral:
		return "general"
	case ModeSensitiveContext:
		return "sensitive_context"
	default:
		return "unspecified"
	}
}

// ClassifyRequest is the input to a single classifier run.
type ClassifyRequest struct {
	Text string
	Mode ClassifyMode
}

// Classification holds raw category scores.
type Classification struct {
	Scores  map[string]float32
	Model   string
	Latency time.Duration
}

// Score categories reported by classifiers.
const (
	CategoryToxic        = "toxic"
	CategorySevereToxic  = "severe_toxic"
	CategoryObscene      = "obscene"
	CategoryThreat       = "threat"
	CategoryInsult       = "insult"
	CategoryIdentityHate = "identity_hate"
	CategoryHate         = "hate"
	CategoryViolence     = "violence"
	CategorySexual       = "sexual"
	CategoryChildRisk    = "child_risk"
)
