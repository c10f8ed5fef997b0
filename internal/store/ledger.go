package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/triage-ai/moderation/internal/engine"
)

// Record appends the violation and its warning in one transaction and returns
// the user's warning count before the insert. A transaction-scoped advisory
// lock keyed on the user serializes concurrent records across replicas.
func (s *Store) Record(ctx context.Context, v engine.Violation, warningTag string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Record: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, v.UserID); err != nil {
		return 0, mapError(err, "Record: advisory lock")
	}

	var prior int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM user_warnings WHERE user_id = $1`, v.UserID,
	).Scan(&prior); err != nil {
		return 0, mapError(err, "Record: count warnings")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO violations (user_id, prompt, violation_type, violation_details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.UserID, v.Prompt, string(v.Type), v.Details, v.Timestamp,
	); err != nil {
		return 0, mapError(err, "Record: insert violation")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_warnings (user_id, prompt, word, warned_at) VALUES ($1, $2, $3, $4)`,
		v.UserID, v.Prompt, warningTag, v.Timestamp,
	); err != nil {
		return 0, mapError(err, "Record: insert warning")
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Record: commit: %w", err)
	}
	return prior, nil
}

func (s *Store) WarningCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM user_warnings WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, mapError(err, "WarningCount")
	}
	return n, nil
}

// ListWarnings returns the user's warnings oldest first.
func (s *Store) ListWarnings(ctx context.Context, userID string) ([]engine.Warning, error) {
	q := psql.Select("id", "user_id", "prompt", "word", "warned_at").
		From("user_warnings").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("warned_at ASC", "id ASC")
	return s.queryWarnings(ctx, q, "ListWarnings")
}

// ListAllWarnings returns warnings across all users, newest first.
func (s *Store) ListAllWarnings(ctx context.Context, f engine.WarningFilter) ([]engine.Warning, error) {
	q := psql.Select("id", "user_id", "prompt", "word", "warned_at").
		From("user_warnings").
		OrderBy("warned_at DESC", "id DESC")
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"warned_at": f.Since})
	}
	if f.TagPrefix != "" {
		q = q.Where(sq.Like{"word": escapeLike(f.TagPrefix) + "%"})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return s.queryWarnings(ctx, q, "ListAllWarnings")
}

func (s *Store) queryWarnings(ctx context.Context, q sq.SelectBuilder, op string) ([]engine.Warning, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, op)
	}
	defer rows.Close()

	var out []engine.Warning
	for rows.Next() {
		var w engine.Warning
		if err := rows.Scan(&w.ID, &w.UserID, &w.Prompt, &w.Word, &w.WarnedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ClearWarnings(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_warnings WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapError(err, "ClearWarnings")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ClearWarnings: %w", err)
	}
	return n, nil
}

func (s *Store) RemoveWarning(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_warnings WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, mapError(err, "RemoveWarning")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("RemoveWarning: %w", err)
	}
	return n > 0, nil
}

// ListViolations returns the user's audit trail, newest first.
func (s *Store) ListViolations(ctx context.Context, userID string, limit int) ([]engine.Violation, error) {
	q := psql.Select("id", "user_id", "prompt", "violation_type", "violation_details", "created_at").
		From("violations").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListViolations: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "ListViolations")
	}
	defer rows.Close()

	var out []engine.Violation
	for rows.Next() {
		var v engine.Violation
		var kind string
		if err := rows.Scan(&v.ID, &v.UserID, &v.Prompt, &kind, &v.Details, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("ListViolations: scan: %w", err)
		}
		v.Type = engine.Kind(kind)
		out = append(out, v)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
