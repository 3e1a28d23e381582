package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/store"
)

// stubStatsStore is a test double for StatsStore.
type stubStatsStore struct {
	calls    int
	gotSince time.Time
	gotUntil time.Time
	result   *store.BasicStats
	err      error
}

func (s *stubStatsStore) GetBasicStats(ctx context.Context, since, until time.Time) (*store.BasicStats, error) {
	s.calls++
	s.gotSince = since
	s.gotUntil = until
	return s.result, s.err
}

func TestStatsService_GetBasicStats_Success(t *testing.T) {
	lastEvent := "2024-01-01T12:00:00.000000000Z"
	stub := &stubStatsStore{
		result: &store.BasicStats{
			ConnectCount:     10,
			DisconnectCount:  5,
			RejectCount:      1,
			DeathCount:       3,
			SaveCount:        4,
			AvgSaveMS:        12.5,
			RecentCharacters: []string{"Bjorn", "Astrid"},
			LastEventAt:      &lastEvent,
		},
	}
	svc := NewStatsService(stub)

	result, err := svc.GetBasicStats(context.Background())
	if err != nil {
		t.Fatalf("GetBasicStats error: %v", err)
	}

	if result.TodayConnects != 10 || result.TodayDisconnects != 5 || result.TodayRejections != 1 {
		t.Errorf("peer counts = %+v", result)
	}
	if result.TodayDeaths != 3 || result.TodayWorldSaves != 4 || result.AvgSaveMS != 12.5 {
		t.Errorf("world counts = %+v", result)
	}
	if len(result.RecentCharacters) != 2 {
		t.Errorf("len(RecentCharacters) = %d, want 2", len(result.RecentCharacters))
	}
	if result.LastEventAt == nil || *result.LastEventAt != lastEvent {
		t.Errorf("LastEventAt = %v, want %v", result.LastEventAt, lastEvent)
	}
}

func TestStatsService_GetBasicStats_DateRange(t *testing.T) {
	stub := &stubStatsStore{result: &store.BasicStats{}}
	fixed := time.Date(2024, 5, 1, 15, 30, 0, 0, time.Local)
	svc := NewStatsService(stub, WithStatsClock(func() time.Time { return fixed }))

	result, err := svc.GetBasicStats(context.Background())
	if err != nil {
		t.Fatalf("GetBasicStats error: %v", err)
	}

	if diff := stub.gotUntil.Sub(stub.gotSince); diff != 24*time.Hour {
		t.Errorf("date range = %v, want 24h", diff)
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local); !stub.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", stub.gotSince, want)
	}
	if result.RecentCharacters == nil {
		t.Error("RecentCharacters should be non-nil for JSON")
	}
}

func TestStatsService_GetBasicStats_Error(t *testing.T) {
	expectedErr := errors.New("database error")
	stub := &stubStatsStore{err: expectedErr}
	svc := NewStatsService(stub)

	result, err := svc.GetBasicStats(context.Background())
	if !errors.Is(err, expectedErr) {
		t.Errorf("error = %v, want %v", err, expectedErr)
	}
	if result != nil {
		t.Error("result should be nil on error")
	}

	// Errors are not cached.
	stub.err = nil
	stub.result = &store.BasicStats{ConnectCount: 1}
	if _, err := svc.GetBasicStats(context.Background()); err != nil {
		t.Errorf("retry after error: %v", err)
	}
}

func TestStatsService_Caching(t *testing.T) {
	stub := &stubStatsStore{result: &store.BasicStats{ConnectCount: 1}}
	svc := NewStatsService(stub, WithStatsTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := svc.GetBasicStats(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if stub.calls != 1 {
		t.Errorf("store calls = %d, want 1 (cached)", stub.calls)
	}

	svc.Invalidate()
	stub.result = &store.BasicStats{ConnectCount: 2}
	result, err := svc.GetBasicStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stub.calls != 2 || result.TodayConnects != 2 {
		t.Errorf("after Invalidate: calls=%d connects=%d", stub.calls, result.TodayConnects)
	}
}

func TestStatsService_CacheDisabled(t *testing.T) {
	stub := &stubStatsStore{result: &store.BasicStats{}}
	svc := NewStatsService(stub, WithStatsTTL(0))

	svc.GetBasicStats(context.Background())
	svc.GetBasicStats(context.Background())
	svc.Invalidate()

	if stub.calls != 2 {
		t.Errorf("store calls = %d, want 2", stub.calls)
	}
}
