package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_queries (
	id            UUID PRIMARY KEY,
	keyword       TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	total_results INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_search_queries_created_at ON search_queries(created_at DESC);

CREATE TABLE IF NOT EXISTS businesses (
	id                   BIGSERIAL PRIMARY KEY,
	search_query_id      UUID NOT NULL REFERENCES search_queries(id) ON DELETE CASCADE,
	name                 TEXT NOT NULL,
	phone                TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL DEFAULT '',
	address              TEXT NOT NULL DEFAULT '',
	tax_id               TEXT NOT NULL DEFAULT '',
	legal_representative TEXT NOT NULL DEFAULT '',
	issue_date           DATE,
	status               TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	rating               DOUBLE PRECISION,
	reviews_count        INTEGER NOT NULL DEFAULT 0,
	category             TEXT NOT NULL DEFAULT '',
	google_maps_url      TEXT NOT NULL DEFAULT '',
	latitude             DOUBLE PRECISION,
	longitude            DOUBLE PRECISION,
	source               TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_businesses_search_query ON businesses(search_query_id);
CREATE INDEX IF NOT EXISTS idx_businesses_name ON businesses(name);
CREATE INDEX IF NOT EXISTS idx_businesses_tax_id ON businesses(tax_id);
CREATE INDEX IF NOT EXISTS idx_businesses_phone ON businesses(phone);
CREATE INDEX IF NOT EXISTS idx_businesses_email ON businesses(email);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event(status, next_retry_at);
`

// Migrate creates the tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
