package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/moderation/internal/engine"
)

const sanctionColumns = `user_id, reason, banned_at, is_permanent, expires_at`

func (s *Store) GetSanction(ctx context.Context, userID string) (*engine.Sanction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sanctionColumns+` FROM banned_users WHERE user_id = $1`, userID)
	sn, err := scanSanction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "GetSanction")
	}
	return &sn, nil
}

// PutSanction replaces any existing row for the user.
func (s *Store) PutSanction(ctx context.Context, sn engine.Sanction) error {
	var expires sql.NullTime
	if !sn.IsPermanent && sn.ExpiresAt != nil {
		expires = sql.NullTime{Time: *sn.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO banned_users (user_id, reason, banned_at, is_permanent, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		     reason = EXCLUDED.reason,
		     banned_at = EXCLUDED.banned_at,
		     is_permanent = EXCLUDED.is_permanent,
		     expires_at = EXCLUDED.expires_at`,
		sn.UserID, sn.Reason, sn.BannedAt, sn.IsPermanent, expires,
	)
	return mapError(err, "PutSanction")
}

func (s *Store) DeleteSanction(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM banned_users WHERE user_id = $1`, userID)
	if err != nil {
		return false, mapError(err, "DeleteSanction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DeleteSanction: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListSanctions(ctx context.Context) ([]engine.Sanction, error) {
	return s.querySanctions(ctx, "ListSanctions",
		`SELECT `+sanctionColumns+` FROM banned_users ORDER BY banned_at DESC`)
}

func (s *Store) ListExpiredSanctions(ctx context.Context, now time.Time) ([]engine.Sanction, error) {
	return s.querySanctions(ctx, "ListExpiredSanctions",
		`SELECT `+sanctionColumns+` FROM banned_users
		 WHERE NOT is_permanent AND expires_at <= $1
		 ORDER BY expires_at`, now)
}

// LiftExpired deletes the row only while it is still an expired temporary
// restriction, then clears the user's warnings in the same transaction.
func (s *Store) LiftExpired(ctx context.Context, userID string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("LiftExpired: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`DELETE FROM banned_users
		 WHERE user_id = $1 AND NOT is_permanent AND expires_at <= $2`,
		userID, now,
	)
	if err != nil {
		return false, mapError(err, "LiftExpired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("LiftExpired: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_warnings WHERE user_id = $1`, userID); err != nil {
		return false, mapError(err, "LiftExpired: clear warnings")
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("LiftExpired: commit: %w", err)
	}
	return true, nil
}

func (s *Store) querySanctions(ctx context.Context, op, query string, args ...any) ([]engine.Sanction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, op)
	}
	defer rows.Close()

	var out []engine.Sanction
	for rows.Next() {
		sn, err := scanSanction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func scanSanction(row scanner) (engine.Sanction, error) {
	var (
		sn      engine.Sanction
		expires sql.NullTime
	)
	if err := row.Scan(&sn.UserID, &sn.Reason, &sn.BannedAt, &sn.IsPermanent, &expires); err != nil {
		return engine.Sanction{}, err
	}
	if expires.Valid {
		t := expires.Time
		sn.ExpiresAt = &t
	}
	return sn, nil
}
