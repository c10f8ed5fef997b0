package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/triage-ai/moderation/internal/engine"
	"github.com/triage-ai/moderation/internal/rules"
)

// ErrConstraint is returned when a row violates a check constraint.
var ErrConstraint = engine.ErrConstraint

// mapError converts driver errors to the errors callers branch on.
// Context errors pass through unchanged.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, rules.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, rules.ErrAlreadyExists)
		case "23514": // check_violation
			return fmt.Errorf("%s: %w: %s", op, ErrConstraint, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
