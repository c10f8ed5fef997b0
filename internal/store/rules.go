package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/triage-ai/moderation/internal/rules"
)

func (s *Store) ListBannedWords(ctx context.Context) ([]rules.BannedWord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, added_at FROM banned_words ORDER BY word`)
	if err != nil {
		return nil, mapError(err, "ListBannedWords")
	}
	defer rows.Close()

	var out []rules.BannedWord
	for rows.Next() {
		var w rules.BannedWord
		if err := rows.Scan(&w.Word, &w.AddedAt); err != nil {
			return nil, fmt.Errorf("ListBannedWords: scan: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) AddBannedWord(ctx context.Context, word string) (rules.BannedWord, error) {
	var w rules.BannedWord
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO banned_words (word) VALUES ($1) RETURNING word, added_at`,
		word,
	).Scan(&w.Word, &w.AddedAt)
	if err != nil {
		return rules.BannedWord{}, mapError(err, "AddBannedWord")
	}
	return w, nil
}

// AddBannedWords inserts every new word in one transaction and returns the
// rows that were actually inserted. Existing words are skipped.
func (s *Store) AddBannedWords(ctx context.Context, words []string) ([]rules.BannedWord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("AddBannedWords: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var added []rules.BannedWord
	for _, word := range words {
		word = rules.NormalizeWord(word)
		if word == "" {
			continue
		}
		var w rules.BannedWord
		err := tx.QueryRowContext(ctx,
			`INSERT INTO banned_words (word) VALUES ($1)
			 ON CONFLICT (word) DO NOTHING
			 RETURNING word, added_at`,
			word,
		).Scan(&w.Word, &w.AddedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, mapError(err, "AddBannedWords")
		}
		added = append(added, w)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("AddBannedWords: commit: %w", err)
	}
	return added, nil
}

func (s *Store) RemoveBannedWord(ctx context.Context, word string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM banned_words WHERE word = $1`, word)
	if err != nil {
		return mapError(err, "RemoveBannedWord")
	}
	return requireAffected(res, "RemoveBannedWord")
}

func (s *Store) ListRegexPatterns(ctx context.Context) ([]rules.RegexPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, pattern, description, severity, added_at
		 FROM regex_patterns ORDER BY id`)
	if err != nil {
		return nil, mapError(err, "ListRegexPatterns")
	}
	defer rows.Close()

	var out []rules.RegexPattern
	for rows.Next() {
		var p rules.RegexPattern
		if err := rows.Scan(&p.ID, &p.Name, &p.Pattern, &p.Description, &p.Severity, &p.AddedAt); err != nil {
			return nil, fmt.Errorf("ListRegexPatterns: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AddRegexPattern(ctx context.Context, p rules.RegexPattern) (rules.RegexPattern, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO regex_patterns (name, pattern, description, severity)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, added_at`,
		p.Name, p.Pattern, p.Description, string(p.Severity),
	).Scan(&p.ID, &p.AddedAt)
	if err != nil {
		return rules.RegexPattern{}, mapError(err, "AddRegexPattern")
	}
	return p, nil
}

func (s *Store) RemoveRegexPattern(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM regex_patterns WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "RemoveRegexPattern")
	}
	return requireAffected(res, "RemoveRegexPattern")
}

func (s *Store) ListContextRules(ctx context.Context) ([]rules.ContextRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_word, allowed_contexts, disallowed_contexts, description, added_at
		 FROM context_rules ORDER BY trigger_word`)
	if err != nil {
		return nil, mapError(err, "ListContextRules")
	}
	defer rows.Close()

	var out []rules.ContextRule
	for rows.Next() {
		r, err := scanContextRule(rows)
		if err != nil {
			return nil, fmt.Errorf("ListContextRules: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertContextRule replaces the rule with the same trigger word, keeping its id.
func (s *Store) UpsertContextRule(ctx context.Context, r rules.ContextRule) (rules.ContextRule, error) {
	allowed, err := json.Marshal(nonNil(r.AllowedContexts))
	if err != nil {
		return rules.ContextRule{}, fmt.Errorf("UpsertContextRule: %w", err)
	}
	disallowed, err := json.Marshal(nonNil(r.DisallowedContexts))
	if err != nil {
		return rules.ContextRule{}, fmt.Errorf("UpsertContextRule: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO context_rules (trigger_word, allowed_contexts, disallowed_contexts, description)
		 VALUES ($1, $2::jsonb, $3::jsonb, $4)
		 ON CONFLICT (trigger_word) DO UPDATE SET
		     allowed_contexts = EXCLUDED.allowed_contexts,
		     disallowed_contexts = EXCLUDED.disallowed_contexts,
		     description = EXCLUDED.description,
		     added_at = now()
		 RETURNING id, trigger_word, allowed_contexts, disallowed_contexts, description, added_at`,
		r.TriggerWord, string(allowed), string(disallowed), r.Description,
	)
	out, err := scanContextRule(row)
	if err != nil {
		return rules.ContextRule{}, mapError(err, "UpsertContextRule")
	}
	return out, nil
}

func (s *Store) RemoveContextRule(ctx context.Context, trigger string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM context_rules WHERE trigger_word = lower($1)`, trigger)
	if err != nil {
		return mapError(err, "RemoveContextRule")
	}
	return requireAffected(res, "RemoveContextRule")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContextRule(row scanner) (rules.ContextRule, error) {
	var (
		r                   rules.ContextRule
		allowed, disallowed []byte
	)
	if err := row.Scan(&r.ID, &r.TriggerWord, &allowed, &disallowed, &r.Description, &r.AddedAt); err != nil {
		return rules.ContextRule{}, err
	}
	if err := json.Unmarshal(allowed, &r.AllowedContexts); err != nil {
		return rules.ContextRule{}, fmt.Errorf("decode allowed_contexts: %w", err)
	}
	if err := json.Unmarshal(disallowed, &r.DisallowedContexts); err != nil {
		return rules.ContextRule{}, fmt.Errorf("decode disallowed_contexts: %w", err)
	}
	return r, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, rules.ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
