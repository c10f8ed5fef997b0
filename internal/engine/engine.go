package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	retry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/triage-ai/moderation/internal/rules"
	"github.com/triage-ai/moderation/internal/userlock"
)

// Config tunes the engine. Zero values fall back to defaults in New; a zero
// Policy means DefaultPolicy.
type Config struct {
	Policy            Policy
	Thresholds        ThresholdConfig
	ContextSets       []ContextSet
	ClassifierTimeout time.Duration

	// FailClosedOnGateError makes CheckPrompt return an error when the
	// sanction lookup fails instead of treating the user as not sanctioned.
	FailClosedOnGateError bool

	WriteRetries   uint64
	WriteRetryBase time.Duration

	Now func() time.Time
}

// Deps are the collaborators the engine is built from.
// Classifier, Locker and Notifier are optional.
type Deps struct {
	Rules      *rules.Store
	Classifier Classifier
	Ledger     Ledger
	Sanctions  SanctionStore
	Locker     UserLocker
	Notifier   Notifier
	Logger     *zap.Logger
}

// Engine runs the moderation pipeline and owns enforcement state transitions.
type Engine struct {
	cfg        Config
	rules      *rules.Store
	classifier Classifier
	ledger     Ledger
	sanctions  SanctionStore
	locker     UserLocker
	notifier   Notifier
	logger     *zap.Logger
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Policy.MaxWarnings < 1 {
		cfg.Policy.MaxWarnings = DefaultPolicy().MaxWarnings
	}
	if cfg.Policy.RestrictionDuration <= 0 {
		cfg.Policy.RestrictionDuration = DefaultPolicy().RestrictionDuration
	}
	if cfg.Thresholds == (ThresholdConfig{}) {
		cfg.Thresholds = DefaultThresholdConfig()
	}
	if cfg.ContextSets == nil {
		cfg.ContextSets = DefaultContextSets()
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 2 * time.Second
	}
	if cfg.WriteRetryBase <= 0 {
		cfg.WriteRetryBase = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		cfg:        cfg,
		rules:      deps.Rules,
		classifier: deps.Classifier,
		ledger:     deps.Ledger,
		sanctions:  deps.Sanctions,
		locker:     deps.Locker,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
	}
	if e.locker == nil {
		e.locker = userlock.NewKeyed()
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Policy returns the effective enforcement policy.
func (e *Engine) Policy() Policy { return e.cfg.Policy }

// CheckPrompt decides whether userID may submit prompt.
//
// Steps, stopping at the first violation: sanction gate, semantic
// classification, context rules, banned words, regex patterns. Classification
// and rule evaluation run without holding any lock; only the record-and-enforce
// step is serialized per user. A classifier failure falls through to the rule
// checks. Failures to record the violation or write a sanction are returned.
func (e *Engine) CheckPrompt(ctx context.Context, userID, prompt string) (*CheckResult, error) {
	start := time.Now()
	defer func() { checkDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	requestID := uuid.NewString()

	sanctioned, err := e.IsSanctioned(ctx, userID)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("CheckPrompt: %w", err)
	}
	if sanctioned {
		checksTotal.WithLabelValues("sanctioned").Inc()
		return &CheckResult{
			Allowed:   false,
			Kind:      KindBannedUser,
			Message:   BannedMessage,
			RequestID: requestID,
		}, nil
	}

	finding := e.evaluate(ctx, userID, prompt)
	if finding == nil {
		checksTotal.WithLabelValues("allowed").Inc()
		return &CheckResult{Allowed: true, RequestID: requestID}, nil
	}

	result, err := e.enforce(ctx, requestID, userID, prompt, finding)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("CheckPrompt: %w", err)
	}
	if result.Kind == KindBannedUser {
		checksTotal.WithLabelValues("sanctioned").Inc()
	} else {
		checksTotal.WithLabelValues("blocked").Inc()
	}
	return result, nil
}

// evaluate is pure: it reads the rule snapshot and the classifier and
// mutates nothing. Term matching sees the prompt normalized the same way rule
// phrases are; regex patterns see it as submitted.
func (e *Engine) evaluate(ctx context.Context, userID, prompt string) *Finding {
	lowered := rules.NormalizeWord(prompt)

	if e.classifier != nil {
		f, err := e.classify(ctx, userID, lowered)
		if err != nil {
			failOpenTotal.WithLabelValues("classifier").Inc()
			e.logger.Error("classifier unavailable, continuing with rule checks (fail-open)",
				zap.String("user_id", userID),
				zap.String("classifier", e.classifier.Name()),
				zap.Error(err),
			)
		} else if f != nil {
			return f
		}
	}

	return evaluateRules(e.rules.Snapshot(), prompt, lowered)
}

// enforce records the violation and applies the policy under the user lock.
func (e *Engine) enforce(ctx context.Context, requestID, userID, prompt string, f *Finding) (*CheckResult, error) {
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("enforce: lock user: %w", err)
	}
	defer unlock()

	now := e.cfg.Now()

	// A concurrent check for the same user may have sanctioned them while
	// this one was evaluating.
	if active, err := e.activeSanctionLocked(ctx, userID, now); err != nil {
		e.logger.Error("sanction re-check failed under lock, proceeding to record",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else if active != nil {
		return &CheckResult{
			Allowed:   false,
			Kind:      KindBannedUser,
			Message:   BannedMessage,
			RequestID: requestID,
		}, nil
	}

	v := Violation{
		UserID:    userID,
		Prompt:    prompt,
		Type:      f.Kind,
		Details:   f.Details,
		Timestamp: now,
	}
	var prior int
	err = e.retryWrite(ctx, "record violation", userID, func(ctx context.Context) error {
		var err error
		prior, err = e.ledger.Record(ctx, v, f.Tag)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enforce: record violation: %w", err)
	}
	violationsTotal.WithLabelValues(string(f.Kind)).Inc()

	decision := e.cfg.Policy.Decide(userID, prior, f, now)
	if decision.Sanction != nil {
		s := *decision.Sanction
		err := e.retryWrite(ctx, "write sanction", userID, func(ctx context.Context) error {
			return e.sanctions.PutSanction(ctx, s)
		})
		if err != nil {
			return nil, fmt.Errorf("enforce: write sanction: %w", err)
		}
		e.logger.Info("user sanctioned",
			zap.String("user_id", userID),
			zap.String("action", string(decision.Action)),
			zap.String("kind", string(f.Kind)),
			zap.String("reason", s.Reason),
			zap.Int("warnings", prior+1),
		)
	} else {
		e.logger.Info("user warned",
			zap.String("user_id", userID),
			zap.String("action", string(decision.Action)),
			zap.String("kind", string(f.Kind)),
			zap.String("details", f.Details),
			zap.Int("warnings", prior+1),
			zap.Int("max_warnings", e.cfg.Policy.MaxWarnings),
		)
	}
	enforcementActions.WithLabelValues(string(decision.Action)).Inc()

	e.notifier.Notify(&ViolationEvent{
		EventID:          uuid.NewString(),
		RequestID:        requestID,
		UserID:           userID,
		Prompt:           prompt,
		ViolationType:    f.Kind,
		ViolationDetails: f.Details,
		Action:           decision.Action,
		WarningCount:     prior + 1,
		MaxWarnings:      e.cfg.Policy.MaxWarnings,
		Timestamp:        now,
	})

	return &CheckResult{
		Allowed:      false,
		Kind:         f.Kind,
		Message:      decision.Message,
		Action:       decision.Action,
		WarningCount: prior + 1,
		RequestID:    requestID,
	}, nil
}

// retryWrite retries fn with Fibonacci backoff. Context and constraint
// errors are returned immediately.
func (e *Engine) retryWrite(ctx context.Context, op, userID string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(e.cfg.WriteRetries, retry.NewFibonacci(e.cfg.WriteRetryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrConstraint) || errors.Is(err, rules.ErrAlreadyExists) {
			return err
		}
		e.logger.Warn(op+" failed, retrying",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return retry.RetryableError(err)
	})
}

// IsSanctioned reports whether userID is currently banned or restricted.
//
// This is a command-query: when the user's temporary restriction has
// expired, the call lifts it and resets the user's warnings to zero before
// reporting false. A failed lookup is logged and reported as not sanctioned,
// unless the engine is configured to fail closed.
func (e *Engine) IsSanctioned(ctx context.Context, userID string) (bool, error) {
	now := e.cfg.Now()
	s, err := e.sanctions.GetSanction(ctx, userID)
	if err != nil {
		if e.cfg.FailClosedOnGateError {
			return false, fmt.Errorf("IsSanctioned: %w", err)
		}
		failOpenTotal.WithLabelValues("sanction_gate").Inc()
		e.logger.Error("sanction lookup failed, treating user as not sanctioned (fail-open)",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, nil
	}
	if s == nil {
		return false, nil
	}
	if s.Active(now) {
		return true, nil
	}

	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		// LiftExpired only deletes a row that is still expired, so it is
		// safe to run without the lock.
		e.logger.Warn("could not lock user, lifting expired restriction unlocked",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		e.liftExpiredLocked(ctx, userID, now, "lazy")
		return false, nil
	}
	defer unlock()
	e.liftExpiredLocked(ctx, userID, now, "lazy")
	return false, nil
}

// activeSanctionLocked returns the user's active sanction, lifting an
// expired one. The caller holds the user lock.
func (e *Engine) activeSanctionLocked(ctx context.Context, userID string, now time.Time) (*Sanction, error) {
	s, err := e.sanctions.GetSanction(ctx, userID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Active(now) {
		return s, nil
	}
	e.liftExpiredLocked(ctx, userID, now, "lazy")
	return nil, nil
}

func (e *Engine) liftExpiredLocked(ctx context.Context, userID string, now time.Time, path string) bool {
	lifted, err := e.sanctions.LiftExpired(ctx, userID, now)
	if err != nil {
		e.logger.Error("failed to lift expired restriction",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	if lifted {
		sanctionsLifted.WithLabelValues(path).Inc()
		e.logger.Info("expired restriction lifted, warnings reset",
			zap.String("user_id", userID),
			zap.String("path", path),
		)
	}
	return lifted
}
