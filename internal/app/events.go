package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Philanthropists/imapfeed/internal/config"
	"github.com/Philanthropists/imapfeed/internal/dynamodb"
	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/Philanthropists/imapfeed/internal/store"
)

var (
	ErrNoSQLiteSink   = errors.New("the sqlite sink is not configured")
	ErrNoDynamoDBSink = errors.New("the dynamodb sink is not configured")
)

var newDynamoDBClient = dynamodb.NewClient

// ListEvents reads back events kept by the sqlite sink, oldest first, along
// with the number of events stored in total.
func ListEvents(ctx context.Context, cfg config.SinkConfig, eventType string, limit int) ([]events.Event, int, error) {
	if !cfg.Has("sqlite") {
		return nil, 0, ErrNoSQLiteSink
	}

	db, err := store.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, 0, err
	}
	defer db.Close()

	list, err := db.ListEvents(ctx, eventType, limit)
	if err != nil {
		return nil, 0, err
	}

	total, err := db.CountEvents(ctx)
	if err != nil {
		return nil, 0, err
	}

	return list, total, nil
}

// GetEvent reads one event back from the dynamodb sink.
func GetEvent(ctx context.Context, cfg config.SinkConfig, id string) (events.Event, error) {
	if !cfg.Has("dynamodb") {
		return events.Event{}, ErrNoDynamoDBSink
	}

	api, err := newDynamoDBClient(ctx, cfg.Region)
	if err != nil {
		return events.Event{}, err
	}

	event, err := dynamodb.NewSink(api, cfg.Table).Get(ctx, id)
	if err != nil {
		return events.Event{}, fmt.Errorf("reading event %s from %s: %w", id, cfg.Table, err)
	}

	return event, nil
}
