package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

const insertEventSQL = `
INSERT INTO events
	(ts, type, peer_id, character, x, y, duration_ms, raw_line, run_id, dedupe_key, ingested_at, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dedupe_key) DO NOTHING
RETURNING id`

// InsertEvent stores e unless a row with the same dedupe key exists.
// inserted is false for a duplicate; otherwise e.ID is set.
func (s *Store) InsertEvent(ctx context.Context, e *event.Record) (id int64, inserted bool, err error) {
	if err := validateRecord(e); err != nil {
		return 0, false, err
	}

	row := recordToRow(e)
	err = s.db.QueryRowContext(ctx, insertEventSQL,
		row.Ts, row.Type, row.PeerID, row.Character, row.X, row.Y,
		row.DurationMS, row.RawLine, row.RunID, row.DedupeKey, row.IngestedAt,
		CurrentSchemaVersion,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("insert event: %w", err)
	}

	e.ID = id
	e.SchemaVersion = CurrentSchemaVersion
	return id, true, nil
}

// QueryFilter selects events. Nil and empty fields do not filter.
// Until is exclusive.
type QueryFilter struct {
	Since     *time.Time
	Until     *time.Time
	Type      *string
	PeerID    *string
	Character *string
	Limit     int
	Cursor    *string
}

// QueryResult is one page of events. NextCursor is nil on the last page.
type QueryResult struct {
	Items      []event.Record
	NextCursor *string
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) addString(col string, v *string) {
	if v != nil && *v != "" {
		w.add(col+" = ?", *v)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// QueryEvents returns events in read order (ts, then id), paginated by an
// opaque cursor.
func (s *Store) QueryEvents(ctx context.Context, f QueryFilter) (QueryResult, error) {
	limit := clampLimit(f.Limit)

	var w where
	if f.Since != nil {
		w.add("ts >= ?", f.Since.UTC().Format(TimeFormat))
	}
	if f.Until != nil {
		w.add("ts < ?", f.Until.UTC().Format(TimeFormat))
	}
	w.addString("type", f.Type)
	w.addString("peer_id", f.PeerID)
	w.addString("character", f.Character)

	if f.Cursor != nil && *f.Cursor != "" {
		ts, id, err := decodeCursor(*f.Cursor)
		if err != nil {
			return QueryResult{}, fmt.Errorf("decode cursor: %w", err)
		}
		t := ts.UTC().Format(TimeFormat)
		w.add("(ts > ? OR (ts = ? AND id > ?))", t, t, id)
	}

	// One extra row tells whether another page exists.
	query := "SELECT " + eventColumns + " FROM events" + w.String() + " ORDER BY ts ASC, id ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(w.args, limit+1)...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	items := make([]event.Record, 0, limit+1)
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(r.scanTargets()...); err != nil {
			return QueryResult{}, fmt.Errorf("scan event: %w", err)
		}
		rec, err := r.toRecord()
		if err != nil {
			return QueryResult{}, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("iterate events: %w", err)
	}

	res := QueryResult{Items: items}
	if len(items) > limit {
		res.Items = items[:limit]
		last := res.Items[limit-1]
		next := EncodeCursor(last.Ts, last.ID)
		res.NextCursor = &next
	}
	return res, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

// GetLastEventTime returns the newest event timestamp, or the zero time
// for an empty store.
func (s *Store) GetLastEventTime(ctx context.Context) (time.Time, error) {
	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM events`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("get last event time: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeFormat, ts.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts.String, err)
	}
	return t, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
