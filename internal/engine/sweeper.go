package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepExpired lifts every temporary restriction that has lapsed, the same
// way the lazy gate check does, and returns how many were lifted. It exists
// for users who never come back; correctness does not depend on it.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	now := e.cfg.Now()
	expired, err := e.sanctions.ListExpiredSanctions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("SweepExpired: %w", err)
	}

	lifted := 0
	for _, s := range expired {
		if ctx.Err() != nil {
			return lifted, ctx.Err()
		}
		unlock, err := e.locker.Lock(ctx, s.UserID)
		if err != nil {
			return lifted, fmt.Errorf("SweepExpired: lock user: %w", err)
		}
		if e.liftExpiredLocked(ctx, s.UserID, now, "sweep") {
			lifted++
		}
		unlock()
	}
	return lifted, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.SweepExpired(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				e.logger.Info("expiry sweep lifted restrictions", zap.Int("count", n))
			}
		}
	}
}
