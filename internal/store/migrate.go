package store

import (
	"context"
	"fmt"
	"strconv"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

const metadataKeySchemaVersion = "schema_version"

// migrate creates the tables if they do not exist and records the schema version.
func (s *Store) migrate(ctx context.Context) error {
	steps := []struct {
		name   string
		schema string
	}{
		{"events", eventsSchema},
		{"parse_failures", parseFailuresSchema},
		{"metadata", metadataSchema},
	}
	for _, step := range steps {
		if _, err := s.db.ExecContext(ctx, step.schema); err != nil {
			return fmt.Errorf("create %s table: %w", step.name, err)
		}
	}

	if err := s.SetMetadata(ctx, metadataKeySchemaVersion, strconv.Itoa(CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY,
	ts             TEXT NOT NULL,
	type           TEXT NOT NULL,
	peer_id        TEXT,
	character      TEXT,
	x              INTEGER,
	y              INTEGER,
	duration_ms    REAL,
	raw_line       TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	dedupe_key     TEXT NOT NULL,
	ingested_at    TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	UNIQUE(dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);
CREATE INDEX IF NOT EXISTS idx_events_ts_id ON events(ts, id);
CREATE INDEX IF NOT EXISTS idx_events_peer ON events(peer_id);
CREATE INDEX IF NOT EXISTS idx_events_character ON events(character);
`

const parseFailuresSchema = `
CREATE TABLE IF NOT EXISTS parse_failures (
	id         INTEGER PRIMARY KEY,
	ts         TEXT NOT NULL,
	raw_line   TEXT NOT NULL,
	error_msg  TEXT NOT NULL DEFAULT '',
	dedupe_key TEXT NOT NULL,
	UNIQUE(dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_parse_failures_ts ON parse_failures(ts);
`

const metadataSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
