package engine

import (
	"github.com/triage-ai/moderation/internal/rules"
)

// maxAdjustedThreshold caps context-adjusted thresholds so no context can
// disable a check entirely.
const maxAdjustedThreshold float32 = 0.99

// ThresholdConfig holds the server-wide base thresholds per threshold group.
type ThresholdConfig struct {
	Toxic             float32
	Harmful           float32
	Sexual            float32
	Child             float32
	Hate              float32
	Violence          float32
	AllowAdultContent bool
}

// DefaultThresholdConfig returns the stock thresholds.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Toxic:    0.95,
		Harmful:  0.9,
		Sexual:   0.7,
		Child:    0.1,
		Hate:     0.7,
		Violence: 0.8,
	}
}

// CategoryThreshold binds a score category to its base threshold.
// Name is the threshold group reported in logs (e.g. "harmful").
type CategoryThreshold struct {
	Category  string
	Name      string
	Threshold float32
}

// SensitiveChecks are compared against sensitive-context classifications.
// Toxic and sexual content near minors uses half the child threshold.
func (c ThresholdConfig) SensitiveChecks() []CategoryThreshold {
	return []CategoryThreshold{
		{Category: CategoryChildRisk, Name: "child", Threshold: c.Child},
		{Category: CategorySexual, Name: "child", Threshold: c.Child * 0.5},
		{Category: CategoryToxic, Name: "child", Threshold: c.Child * 0.5},
	}
}

// GeneralChecks are compared against general classifications, in order.
// Sexual content is skipped entirely when adult content is allowed.
func (c ThresholdConfig) GeneralChecks() []CategoryThreshold {
	checks := []CategoryThreshold{
		{Category: CategoryToxic, Name: "toxic", Threshold: c.Toxic},
		{Category: CategorySevereToxic, Name: "harmful", Threshold: c.Harmful},
		{Category: CategoryObscene, Name: "harmful", Threshold: c.Harmful},
		{Category: CategoryThreat, Name: "harmful", Threshold: c.Harmful},
		{Category: CategoryInsult, Name: "harmful", Threshold: c.Harmful},
		{Category: CategoryIdentityHate, Name: "hate", Threshold: c.Hate},
		{Category: CategoryHate, Name: "hate", Threshold: c.Hate},
		{Category: CategoryViolence, Name: "violence", Threshold: c.Violence},
	}
	if !c.AllowAdultContent {
		checks = append(checks, CategoryThreshold{Category: CategorySexual, Name: "sexual", Threshold: c.Sexual})
	}
	return checks
}

// ContextSet is a named group of terms whose presence scales thresholds.
// A modifier below 1 makes checks stricter, above 1 more permissive.
// The set does not match when any exclusion term is also present.
type ContextSet struct {
	Name       string
	Terms      []string
	Exclusions []string
	Modifier   float32
}

// Matches reports whether the lowercased text triggers this set.
func (cs ContextSet) Matches(text string) bool {
	if _, ok := rules.ContainsAny(text, cs.Terms); !ok {
		return false
	}
	_, excluded := rules.ContainsAny(text, cs.Exclusions)
	return !excluded
}

// DefaultContextSets returns the stock context sets.
func DefaultContextSets() []ContextSet {
	return []ContextSet{
		{
			Name: "child_related",
			Terms: []string{
				"child", "children", "kid", "kids", "young", "youngster", "teen", "teenager",
				"minor", "minors", "underage", "girl", "boy", "daughter", "son", "school",
				"student", "baby", "infant", "toddler", "adolescent", "youth", "juvenile",
				"preteen", "tween", "kindergarten", "elementary", "preschool", "daycare",
				"nursery", "little one", "little girl", "little boy",
			},
			Exclusions: []string{"adult", "adults", "woman", "women", "man", "men"},
			Modifier:   0.3,
		},
		{
			Name: "educational",
			Terms: []string{
				"education", "school", "learning", "teaching", "academic", "study",
				"research", "science", "history", "literature", "art", "biology",
			},
			Modifier: 1.5,
		},
		{
			Name: "medical",
			Terms: []string{
				"medical", "health", "doctor", "hospital", "treatment", "patient",
				"disease", "condition", "symptom", "diagnosis", "therapy", "medicine",
			},
			Modifier: 1.5,
		},
		{
			Name: "animal",
			Terms: []string{
				"cat", "dog", "pet", "animal", "bird", "fish", "wildlife", "nature",
				"zoo", "farm", "veterinary", "species",
			},
			Modifier: 2.0,
		},
	}
}

// MatchContexts returns the sets present in the lowercased text.
func MatchContexts(text string, sets []ContextSet) []ContextSet {
	var matched []ContextSet
	for _, cs := range sets {
		if cs.Matches(text) {
			matched = append(matched, cs)
		}
	}
	return matched
}

// AdjustThreshold multiplies base by every matched modifier and caps the result.
func AdjustThreshold(base float32, matched []ContextSet) float32 {
	t := base
	for _, cs := range matched {
		t *= cs.Modifier
	}
	if t > maxAdjustedThreshold {
		return maxAdjustedThreshold
	}
	return t
}
