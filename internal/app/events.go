package app

import (
	"context"

	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/store"
)

// EventsUsecase reads the stored history.
type EventsUsecase interface {
	Query(ctx context.Context, filter store.QueryFilter) (store.QueryResult, error)
	RecentFailures(ctx context.Context, limit int) ([]store.ParseFailure, error)
}

// EventStore is the part of *store.Store that EventsService reads.
type EventStore interface {
	QueryEvents(ctx context.Context, filter store.QueryFilter) (store.QueryResult, error)
	RecentParseFailures(ctx context.Context, limit int) ([]store.ParseFailure, error)
}

// EventsService serves history queries. Empty results come back as empty
// slices so they encode as [] rather than null.
type EventsService struct {
	Store EventStore
}

func (s *EventsService) Query(ctx context.Context, filter store.QueryFilter) (store.QueryResult, error) {
	res, err := s.Store.QueryEvents(ctx, filter)
	if err == nil && res.Items == nil {
		res.Items = []event.Record{}
	}
	return res, err
}

func (s *EventsService) RecentFailures(ctx context.Context, limit int) ([]store.ParseFailure, error) {
	items, err := s.Store.RecentParseFailures(ctx, limit)
	if err == nil && items == nil {
		items = []store.ParseFailure{}
	}
	return items, err
}
