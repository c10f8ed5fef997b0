package classifiers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/triage-ai/moderation/internal/engine"
)

// Max runs several classifiers concurrently and reports, per category, the
// highest score any of them produced. It fails only when every member fails.
type Max struct {
	members []engine.Classifier
}

// NewMax combines members. Nil members are dropped.
func NewMax(members ...engine.Classifier) *Max {
	m := &Max{}
	for _, c := range members {
		if c != nil {
			m.members = append(m.members, c)
		}
	}
	return m
}

func (m *Max) Name() string {
	names := make([]string, len(m.members))
	for i, c := range m.members {
		names[i] = c.Name()
	}
	return "max(" + strings.Join(names, ",") + ")"
}

func (m *Max) Classify(ctx context.Context, req *engine.ClassifyRequest) (*engine.Classification, error) {
	if len(m.members) == 0 {
		return nil, errors.New("Max.Classify: no classifiers configured")
	}

	start := time.Now()
	results := make([]*engine.Classification, len(m.members))
	errs := make([]error, len(m.members))

	var wg sync.WaitGroup
	for i, c := range m.members {
		wg.Add(1)
		go func(i int, c engine.Classifier) {
			defer wg.Done()
			res, err := c.Classify(ctx, req)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", c.Name(), err)
				return
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	merged := &engine.Classification{Scores: make(map[string]float32)}
	var models []string
	for _, res := range results {
		if res == nil {
			continue
		}
		models = append(models, res.Model)
		for cat, score := range res.Scores {
			if score > merged.Scores[cat] {
				merged.Scores[cat] = score
			}
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("Max.Classify: %w", errors.Join(errs...))
	}
	merged.Model = strings.Join(models, ",")
	merged.Latency = time.Since(start)
	return merged, nil
}
