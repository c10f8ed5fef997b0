package engine

import (
	"fmt"
	"strings"
)

// Aggregate compares classifier scores against their thresholds after
// context adjustment and returns the first category that exceeds its
// threshold, in the order checks are given. A nil classification never violates.
//
// A score must be strictly greater than the adjusted threshold to violate.
func Aggregate(c *Classification, checks []CategoryThreshold, matched []ContextSet) *Finding {
	if c == nil {
		return nil
	}
	for _, ct := range checks {
		score, ok := c.Scores[ct.Category]
		if !ok {
			continue
		}
		threshold := AdjustThreshold(ct.Threshold, matched)
		if score <= threshold {
			continue
		}
		return &Finding{
			Kind:      KindAIContentFilter,
			Details:   fmt.Sprintf("%s score %.2f above %s threshold %.2f", ct.Category, score, ct.Name, threshold),
			Tag:       "ai_filter:" + ct.Category,
			Label:     "content flagged as " + strings.ReplaceAll(ct.Category, "_", " "),
			Category:  ct.Category,
			Score:     score,
			Threshold: threshold,
		}
	}
	return nil
}

// contextNames lists matched set names for logging.
func contextNames(matched []ContextSet) []string {
	names := make([]string, 0, len(matched))
	for _, cs := range matched {
		names = append(names, cs.Name)
	}
	return names
}
