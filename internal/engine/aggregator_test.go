package engine

import (
	"math"
	"strings"
	"testing"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestAggregate_NilClassification(t *testing.T) {
	if f := Aggregate(nil, DefaultThresholdConfig().GeneralChecks(), nil); f != nil {
		t.Errorf("expected nil finding, got %+v", f)
	}
}

func TestAggregate_AllClear(t *testing.T) {
	c := &Classification{Scores: map[string]float32{
		CategoryToxic:    0.2,
		CategoryViolence: 0.1,
		CategorySexual:   0.3,
	}}
	if f := Aggregate(c, DefaultThresholdConfig().GeneralChecks(), nil); f != nil {
		t.Errorf("expected no violation, got %+v", f)
	}
}

func TestAggregate_ScoreEqualToThresholdAllowed(t *testing.T) {
	c := &Classification{Scores: map[string]float32{CategoryViolence: 0.8}}
	if f := Aggregate(c, DefaultThresholdConfig().GeneralChecks(), nil); f != nil {
		t.Errorf("score equal to threshold must not violate, got %+v", f)
	}
}

func TestAggregate_FirstCategoryInOrderWins(t *testing.T) {
	c := &Classification{Scores: map[string]float32{
		CategoryViolence: 0.99,
		CategoryThreat:   0.95,
	}}
	f := Aggregate(c, DefaultThresholdConfig().GeneralChecks(), nil)
	if f == nil {
		t.Fatal("expected a violation")
	}
	if f.Category != CategoryThreat {
		t.Errorf("expected threat (checked before violence), got %s", f.Category)
	}
	if f.Kind != KindAIContentFilter {
		t.Errorf("kind = %s", f.Kind)
	}
	if f.Tag != "ai_filter:threat" {
		t.Errorf("tag = %s", f.Tag)
	}
	if !strings.HasPrefix(f.Details, "threat score 0.95 above harmful threshold 0.90") {
		t.Errorf("details = %s", f.Details)
	}
}

func TestAggregate_ContextAdjustsThreshold(t *testing.T) {
	checks := DefaultThresholdConfig().GeneralChecks()
	c := &Classification{Scores: map[string]float32{CategoryViolence: 0.85}}

	// Without context the 0.8 violence threshold is exceeded.
	if f := Aggregate(c, checks, nil); f == nil {
		t.Fatal("expected violation without context")
	}

	// Animal context doubles the threshold (capped at 0.99).
	animal := MatchContexts("the cat caught a bird", DefaultContextSets())
	if f := Aggregate(c, checks, animal); f != nil {
		t.Errorf("expected animal context to allow, got %+v", f)
	}
}

func TestSensitiveChecks_ChildThresholds(t *testing.T) {
	checks := DefaultThresholdConfig().SensitiveChecks()
	want := map[string]float32{
		CategoryChildRisk: 0.1,
		CategorySexual:    0.05,
		CategoryToxic:     0.05,
	}
	if len(checks) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(checks))
	}
	for _, ct := range checks {
		if !approx(ct.Threshold, want[ct.Category]) {
			t.Errorf("%s threshold = %f, want %f", ct.Category, ct.Threshold, want[ct.Category])
		}
	}
}

func TestGeneralChecks_AllowAdultContent(t *testing.T) {
	hasSexual := func(checks []CategoryThreshold) bool {
		for _, ct := range checks {
			if ct.Category == CategorySexual {
				return true
			}
		}
		return false
	}

	cfg := DefaultThresholdConfig()
	if !hasSexual(cfg.GeneralChecks()) {
		t.Error("sexual check should be present by default")
	}
	cfg.AllowAdultContent = true
	if hasSexual(cfg.GeneralChecks()) {
		t.Error("sexual check should be skipped when adult content is allowed")
	}
	if !hasSexual(cfg.SensitiveChecks()) {
		t.Error("sensitive sexual check must remain when adult content is allowed")
	}
}

func TestMatchContexts(t *testing.T) {
	sets := DefaultContextSets()
	tests := []struct {
		text string
		want []string
	}{
		{"a photo of a kid at the park", []string{"child_related"}},
		{"a young adult on the beach", nil},
		{"kidney disease treatment", []string{"medical"}},
		{"teaching biology at school", []string{"child_related", "educational"}},
		{"a dog at the vet", []string{"animal"}},
		{"nothing relevant here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := contextNames(MatchContexts(tt.text, sets))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("MatchContexts(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestAdjustThreshold(t *testing.T) {
	sets := DefaultContextSets()
	byName := func(names ...string) []ContextSet {
		var out []ContextSet
		for _, cs := range sets {
			for _, n := range names {
				if cs.Name == n {
					out = append(out, cs)
				}
			}
		}
		return out
	}

	tests := []struct {
		name    string
		base    float32
		matched []ContextSet
		want    float32
	}{
		{"no context", 0.7, nil, 0.7},
		{"child tightens", 0.7, byName("child_related"), 0.21},
		{"medical loosens", 0.5, byName("medical"), 0.75},
		{"capped", 0.9, byName("animal"), 0.99},
		{"combined", 0.5, byName("child_related", "educational"), 0.225},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdjustThreshold(tt.base, tt.matched); !approx(got, tt.want) {
				t.Errorf("AdjustThreshold = %f, want %f", got, tt.want)
			}
		})
	}
}
