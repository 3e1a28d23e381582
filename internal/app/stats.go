package app

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/graaaaa/valheim-watcher/internal/store"
)

// DefaultStatsTTL bounds how stale /stats/basic may be.
const DefaultStatsTTL = 5 * time.Second

const statsCacheKey = "basic"

// StatsResult represents the response for stats/basic endpoint.
type StatsResult struct {
	TodayConnects    int      `json:"today_connects"`
	TodayDisconnects int      `json:"today_disconnects"`
	TodayRejections  int      `json:"today_rejections"`
	TodayDeaths      int      `json:"today_deaths"`
	TodayWorldSaves  int      `json:"today_world_saves"`
	TodayParseErrors int      `json:"today_parse_failures"`
	AvgSaveMS        float64  `json:"avg_save_ms"`
	RecentCharacters []string `json:"recent_characters"`
	LastEventAt      *string  `json:"last_event_at,omitempty"`
}

// StatsUsecase defines the interface for stats operations.
type StatsUsecase interface {
	GetBasicStats(ctx context.Context) (*StatsResult, error)
}

// StatsStore defines the interface for stats data access.
type StatsStore interface {
	GetBasicStats(ctx context.Context, since, until time.Time) (*store.BasicStats, error)
}

// StatsService implements StatsUsecase.
// Results are cached for a short TTL; the dashboard polls this endpoint.
type StatsService struct {
	store StatsStore
	cache *cache.Cache
	now   func() time.Time
}

// StatsOption configures a StatsService.
type StatsOption func(*StatsService)

// WithStatsTTL sets the cache TTL. Zero or negative disables caching.
func WithStatsTTL(ttl time.Duration) StatsOption {
	return func(s *StatsService) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = cache.New(ttl, 2*ttl)
	}
}

// WithStatsClock sets the time source used for the "today" boundary.
func WithStatsClock(now func() time.Time) StatsOption {
	return func(s *StatsService) { s.now = now }
}

// NewStatsService creates a new StatsService.
func NewStatsService(store StatsStore, opts ...StatsOption) *StatsService {
	s := &StatsService{
		store: store,
		cache: cache.New(DefaultStatsTTL, 2*DefaultStatsTTL),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBasicStats retrieves basic statistics for today (local time).
func (s *StatsService) GetBasicStats(ctx context.Context) (*StatsResult, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(statsCacheKey); ok {
			return v.(*StatsResult), nil
		}
	}

	since, until := store.DayBoundary(s.now())

	stats, err := s.store.GetBasicStats(ctx, since, until)
	if err != nil {
		return nil, err
	}

	recent := stats.RecentCharacters
	if recent == nil {
		recent = []string{}
	}

	result := &StatsResult{
		TodayConnects:    stats.ConnectCount,
		TodayDisconnects: stats.DisconnectCount,
		TodayRejections:  stats.RejectCount,
		TodayDeaths:      stats.DeathCount,
		TodayWorldSaves:  stats.SaveCount,
		TodayParseErrors: stats.ParseFailures,
		AvgSaveMS:        stats.AvgSaveMS,
		RecentCharacters: recent,
		LastEventAt:      stats.LastEventAt,
	}

	if s.cache != nil {
		s.cache.SetDefault(statsCacheKey, result)
	}
	return result, nil
}

// Invalidate drops the cached result so the next call hits the store.
func (s *StatsService) Invalidate() {
	if s.cache != nil {
		s.cache.Delete(statsCacheKey)
	}
}
