package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// classifierOutput holds a single classifier run alongside its mode.
type classifierOutput struct {
	mode   ClassifyMode
	result *Classification
	err    error
}

var classifyModes = []ClassifyMode{ModeSensitiveContext, ModeGeneral}

// classify runs the sensitive-context and general checks in parallel and
// returns the first violation, sensitive-context first. It returns an error
// only when no check produced a result, so the caller can fail open.
//
// Each goroutine sends into a buffered channel sized for every mode, so
// stragglers that finish after the deadline never block.
func (e *Engine) classify(ctx context.Context, userID, lowered string) (*Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ClassifierTimeout)
	defer cancel()

	start := time.Now()
	ch := make(chan classifierOutput, len(classifyModes))
	for _, mode := range classifyModes {
		go func(m ClassifyMode) {
			res, err := e.classifier.Classify(ctx, &ClassifyRequest{Text: lowered, Mode: m})
			ch <- classifierOutput{mode: m, result: res, err: err}
		}(mode)
	}

	collected := make(map[ClassifyMode]classifierOutput, len(classifyModes))
	remaining := len(classifyModes)
	for remaining > 0 {
		select {
		case out := <-ch:
			collected[out.mode] = out
			remaining--
		case <-ctx.Done():
			e.logger.Warn("classifier timeout exceeded, using partial results",
				zap.String("user_id", userID),
				zap.Duration("timeout", e.cfg.ClassifierTimeout),
			)
			remaining = 0
		}
	}
	classifierLatency.Observe(time.Since(start).Seconds())

	matched := MatchContexts(lowered, e.cfg.ContextSets)

	var failures int
	var firstErr error
	for _, mode := range classifyModes {
		out, ok := collected[mode]
		if !ok {
			out.err = fmt.Errorf("%s check did not finish: %w", mode, context.DeadlineExceeded)
		}
		if out.err != nil {
			failures++
			if firstErr == nil {
				firstErr = out.err
			}
			e.logger.Error("classifier check failed",
				zap.String("user_id", userID),
				zap.String("classifier", e.classifier.Name()),
				zap.String("mode", mode.String()),
				zap.Error(out.err),
			)
			continue
		}

		checks := e.cfg.Thresholds.GeneralChecks()
		if mode == ModeSensitiveContext {
			checks = e.cfg.Thresholds.SensitiveChecks()
		}
		if f := Aggregate(out.result, checks, matched); f != nil {
			e.logger.Info("classifier flagged prompt",
				zap.String("user_id", userID),
				zap.String("mode", mode.String()),
				zap.String("category", f.Category),
				zap.Float32("score", f.Score),
				zap.Float32("threshold", f.Threshold),
				zap.Strings("contexts", contextNames(matched)),
				zap.String("model", out.result.Model),
			)
			return f, nil
		}
	}

	if failures == len(classifyModes) {
		return nil, fmt.Errorf("classify: %w", firstErr)
	}
	return nil, nil
}
