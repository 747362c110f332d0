package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createIncidentsTable = `
CREATE TABLE IF NOT EXISTS security_incidents (
	id         UUID PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT ''
)`

const insertIncident = `
INSERT INTO security_incidents (id, ts, user_id, kind, details)
VALUES ($1, $2, $3, $4, $5)`

// Postgres persists incidents to a security_incidents table. Insert-only:
// audit rows are never updated or deleted by the service.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the incidents table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createIncidentsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure incidents table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) RecordSecurityIncident(ctx context.Context, inc Incident) error {
	_, err := p.pool.Exec(ctx, insertIncident,
		inc.ID, inc.Timestamp, inc.UserID, inc.Kind, inc.Details)
	if err != nil {
		return fmt.Errorf("audit: insert incident: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
