package sink

import (
	"context"
	"fmt"

	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE SCHEMA IF NOT EXISTS devicehub;
CREATE TABLE IF NOT EXISTS devicehub.events (
	id                serial PRIMARY KEY,
	event_id          text NOT NULL UNIQUE,
	tag               text NOT NULL,
	logical_device_id text,
	device            text,
	event_time        timestamptz,
	received_time     timestamptz,
	data              jsonb NOT NULL,
	created_at        timestamptz NOT NULL DEFAULT now()
);
`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Postgres records every event in devicehub.events. Redelivered events are ignored.
type Postgres struct {
	db execer
}

func NewDatabasePool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func NewPostgres(db execer) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the events table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	return err
}

func (p *Postgres) Handle(ctx context.Context, event events.Event) error {
	header := event.EventHeader()
	data, err := NewEventEnvelope(event).Marshal()
	if err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, `
	INSERT INTO devicehub.events (event_id, tag, logical_device_id, device, event_time, received_time, data) VALUES
	($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (event_id) DO NOTHING;
	`, header.EventID, event.Tag().String(), nullable(header.LogicalDeviceID), nullable(header.Device),
		header.EventTime, header.ReceivedTime, data)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", header.EventID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
