// Package database opens the two handles the store needs: a database/sql
// pool for reads, the swap, and backfill, and a pgx pool for the
// COPY-based generation load. Both point at the same database.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// Handles bundles both connection pools.
type Handles struct {
	DB   *sql.DB
	Pool *pgxpool.Pool
}

// Open connects both pools and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Handles, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		db.Close()
		return nil, fmt.Errorf("ping pgx pool: %w", err)
	}

	return &Handles{DB: db, Pool: pool}, nil
}

// Close releases both pools.
func (h *Handles) Close() {
	if h == nil {
		return
	}
	h.Pool.Close()
	h.DB.Close()
}
