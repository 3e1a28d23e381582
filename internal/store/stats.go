package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// recentCharacterLimit bounds BasicStats.RecentCharacters.
const recentCharacterLimit = 5

// BasicStats holds aggregated statistics for a time period.
type BasicStats struct {
	ConnectCount     int      `json:"connects"`
	DisconnectCount  int      `json:"disconnects"`
	RejectCount      int      `json:"rejections"`
	DeathCount       int      `json:"deaths"`
	SaveCount        int      `json:"world_saves"`
	AvgSaveMS        float64  `json:"avg_save_ms"`
	ParseFailures    int      `json:"parse_failures"`
	RecentCharacters []string `json:"recent_characters"`
	LastEventAt      *string  `json:"last_event_at,omitempty"`
}

// GetBasicStats aggregates events in [since, until).
func (s *Store) GetBasicStats(ctx context.Context, since, until time.Time) (*BasicStats, error) {
	stats := &BasicStats{
		RecentCharacters: []string{},
	}

	sinceStr := since.UTC().Format(TimeFormat)
	untilStr := until.UTC().Format(TimeFormat)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN type = ? THEN duration_ms END), 0)
		FROM events
		WHERE ts >= ? AND ts < ?
	`,
		event.KindPeerConnected,
		event.KindPeerDisconnected,
		event.KindPeerRejected,
		event.KindCharacterDeactivated,
		event.KindWorldPersisted,
		event.KindWorldPersisted,
		sinceStr, untilStr,
	).Scan(
		&stats.ConnectCount,
		&stats.DisconnectCount,
		&stats.RejectCount,
		&stats.DeathCount,
		&stats.SaveCount,
		&stats.AvgSaveMS,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parse_failures WHERE ts >= ? AND ts < ?`,
		sinceStr, untilStr,
	).Scan(&stats.ParseFailures)
	if err != nil {
		return nil, fmt.Errorf("count parse failures: %w", err)
	}

	// Most recently active characters, one entry each.
	rows, err := s.db.QueryContext(ctx, `
		SELECT character FROM events
		WHERE type = ? AND character IS NOT NULL AND character != ''
		GROUP BY character
		ORDER BY MAX(ts) DESC
		LIMIT ?
	`, event.KindCharacterActivated, recentCharacterLimit)
	if err != nil {
		return nil, fmt.Errorf("recent characters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		stats.RecentCharacters = append(stats.RecentCharacters, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var lastTs sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT ts FROM events
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`).Scan(&lastTs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if lastTs.Valid {
		stats.LastEventAt = &lastTs.String
	}

	return stats, nil
}

// GetTodayBoundary returns the start and end times for "today" in local time.
func GetTodayBoundary() (since, until time.Time) {
	return DayBoundary(time.Now())
}

// DayBoundary returns the local-time day containing t.
func DayBoundary(t time.Time) (since, until time.Time) {
	y, m, d := t.Date()
	since = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	until = since.AddDate(0, 0, 1)
	return since, until
}
