package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// eventColumns lists the events columns in scan order.
const eventColumns = `id, ts, type, peer_id, character, x, y, duration_ms, raw_line, run_id, dedupe_key, ingested_at, schema_version`

// eventRow is the internal type representing a database row.
type eventRow struct {
	ID            int64
	Ts            string
	Type          string
	PeerID        sql.NullString
	Character     sql.NullString
	X             sql.NullInt64
	Y             sql.NullInt64
	DurationMS    sql.NullFloat64
	RawLine       string
	RunID         string
	DedupeKey     string
	IngestedAt    string
	SchemaVersion int
}

func (r *eventRow) scanTargets() []any {
	return []any{
		&r.ID, &r.Ts, &r.Type, &r.PeerID, &r.Character,
		&r.X, &r.Y, &r.DurationMS, &r.RawLine, &r.RunID,
		&r.DedupeKey, &r.IngestedAt, &r.SchemaVersion,
	}
}

// toRecord converts a database row to a Record.
func (r *eventRow) toRecord() (*event.Record, error) {
	ts, err := time.Parse(TimeFormat, r.Ts)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", r.Ts, err)
	}

	ingestedAt, err := time.Parse(TimeFormat, r.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse ingested_at %q: %w", r.IngestedAt, err)
	}

	e := &event.Record{
		ID:            r.ID,
		Ts:            ts,
		Type:          event.Kind(r.Type),
		RawLine:       r.RawLine,
		RunID:         r.RunID,
		DedupeKey:     r.DedupeKey,
		IngestedAt:    ingestedAt,
		SchemaVersion: r.SchemaVersion,
	}

	if r.PeerID.Valid {
		e.PeerID = &r.PeerID.String
	}
	if r.Character.Valid {
		e.Character = &r.Character.String
	}
	if r.X.Valid {
		e.X = &r.X.Int64
	}
	if r.Y.Valid {
		e.Y = &r.Y.Int64
	}
	if r.DurationMS.Valid {
		e.DurationMS = &r.DurationMS.Float64
	}

	return e, nil
}

// recordToRow converts a Record to a database row.
func recordToRow(e *event.Record) *eventRow {
	r := &eventRow{
		ID:            e.ID,
		Ts:            e.Ts.UTC().Format(TimeFormat),
		Type:          string(e.Type),
		RawLine:       e.RawLine,
		RunID:         e.RunID,
		DedupeKey:     e.DedupeKey,
		IngestedAt:    e.IngestedAt.UTC().Format(TimeFormat),
		SchemaVersion: e.SchemaVersion,
	}

	if e.PeerID != nil {
		r.PeerID = sql.NullString{String: *e.PeerID, Valid: true}
	}
	if e.Character != nil {
		r.Character = sql.NullString{String: *e.Character, Valid: true}
	}
	if e.X != nil {
		r.X = sql.NullInt64{Int64: *e.X, Valid: true}
	}
	if e.Y != nil {
		r.Y = sql.NullInt64{Int64: *e.Y, Valid: true}
	}
	if e.DurationMS != nil {
		r.DurationMS = sql.NullFloat64{Float64: *e.DurationMS, Valid: true}
	}

	return r
}

// validateRecord checks that required fields are set.
func validateRecord(e *event.Record) error {
	if e == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.DedupeKey == "" {
		return fmt.Errorf("%w: dedupe_key is required", ErrInvalidEvent)
	}
	if e.Ts.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidEvent)
	}
	if e.IngestedAt.IsZero() {
		return fmt.Errorf("%w: ingested_at is required", ErrInvalidEvent)
	}
	return nil
}
