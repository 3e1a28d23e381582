package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ParseFailure is one stored line that could not be parsed.
type ParseFailure struct {
	ID       int64     `json:"id"`
	Ts       time.Time `json:"ts"`
	RawLine  string    `json:"raw_line"`
	ErrorMsg string    `json:"error"`
}

// InsertParseFailure records a line that failed to parse.
// Returns false if the same line was already recorded.
func (s *Store) InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (inserted bool, err error) {
	if rawLine == "" {
		return false, ErrEmptyLine
	}

	const query = `
	INSERT INTO parse_failures (ts, raw_line, error_msg, dedupe_key)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(dedupe_key) DO NOTHING
	`

	ts := time.Now().UTC().Format(TimeFormat)
	result, err := s.db.ExecContext(ctx, query, ts, rawLine, errorMsg, sha256Hex(rawLine))
	if err != nil {
		return false, fmt.Errorf("insert parse failure: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RecentParseFailures returns up to limit failures, newest first.
func (s *Store) RecentParseFailures(ctx context.Context, limit int) ([]ParseFailure, error) {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, raw_line, error_msg FROM parse_failures
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query parse failures: %w", err)
	}
	defer rows.Close()

	out := []ParseFailure{}
	for rows.Next() {
		var (
			pf ParseFailure
			ts string
		)
		if err := rows.Scan(&pf.ID, &ts, &pf.RawLine, &pf.ErrorMsg); err != nil {
			return nil, fmt.Errorf("scan parse failure: %w", err)
		}
		if pf.Ts, err = time.Parse(TimeFormat, ts); err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// sha256Hex returns the SHA256 hash of the input string as a hex string.
func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
