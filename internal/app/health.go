// Package app provides application use cases.
package app

import (
	"context"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/notify"
)

// HealthUsecase defines the health check use case.
type HealthUsecase interface {
	Handle(ctx context.Context) (HealthResult, error)
}

// HealthResult represents the health check response.
type HealthResult struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Mode      string                 `json:"mode"`
	UptimeSec int64                  `json:"uptime_sec"`
	Database  string                 `json:"database"`
	ServerPID int                    `json:"server_pid,omitempty"`
	Notifier  *notify.NotifierStatus `json:"notifier,omitempty"`
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService implements HealthUsecase.
// Optional fields are skipped when nil.
type HealthService struct {
	Version   string
	Mode      string
	StartedAt time.Time
	DB        Pinger
	ServerPID func() int
	Notifier  func() notify.NotifierStatus
}

// Handle returns the current health status. A failing database makes the
// status "degraded"; ingestion keeps running without history.
func (s HealthService) Handle(ctx context.Context) (HealthResult, error) {
	res := HealthResult{
		Status:   "ok",
		Version:  s.Version,
		Mode:     s.Mode,
		Database: "ok",
	}
	if !s.StartedAt.IsZero() {
		res.UptimeSec = int64(time.Since(s.StartedAt).Seconds())
	}
	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			res.Status = "degraded"
			res.Database = err.Error()
		}
	} else {
		res.Database = "disabled"
	}
	if s.ServerPID != nil {
		res.ServerPID = s.ServerPID()
	}
	if s.Notifier != nil {
		st := s.Notifier()
		res.Notifier = &st
	}
	return res, nil
}
