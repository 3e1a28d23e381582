package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// VacuumInterval is the minimum interval between VACUUM operations.
const VacuumInterval = 30 * 24 * time.Hour

const metadataKeyLastVacuum = "last_vacuum_at"

// VacuumIfNeeded runs VACUUM if the last vacuum was more than VacuumInterval ago.
// Returns true if VACUUM was performed, false if skipped.
func (s *Store) VacuumIfNeeded(ctx context.Context) (bool, error) {
	lastVacuum, err := s.lastVacuumTime(ctx)
	if err != nil {
		return false, err
	}

	if time.Since(lastVacuum) < VacuumInterval {
		return false, nil
	}

	before, _ := s.SizeBytes(ctx)
	s.logger.Info("running VACUUM", "last_run", lastVacuum, "size", humanize.IBytes(before))
	start := time.Now()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return false, fmt.Errorf("vacuum: %w", err)
	}

	after, _ := s.SizeBytes(ctx)
	s.logger.Info("VACUUM completed",
		"elapsed", time.Since(start),
		"size", humanize.IBytes(after),
		"reclaimed", humanize.IBytes(saturatingSub(before, after)),
	)

	if err := s.SetMetadata(ctx, metadataKeyLastVacuum, time.Now().UTC().Format(TimeFormat)); err != nil {
		// VACUUM itself succeeded.
		s.logger.Warn("failed to update last_vacuum_at", "error", err)
	}

	return true, nil
}

// SizeBytes returns the database size as page_count * page_size.
func (s *Store) SizeBytes(ctx context.Context) (uint64, error) {
	var pages, pageSize uint64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}
	return pages * pageSize, nil
}

// lastVacuumTime returns the zero time when no valid record exists, which triggers a VACUUM.
func (s *Store) lastVacuumTime(ctx context.Context) (time.Time, error) {
	value, ok, err := s.GetMetadata(ctx, metadataKeyLastVacuum)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(TimeFormat, value)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
