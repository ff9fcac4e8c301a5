// Package registry provides read access to the external entity registry's
// PostgreSQL store. The streaming core never requires it; it exists to serve
// position snapshots for the batch query path, warm starts, and shard
// reseeding after an accumulator inconsistency.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/geofleet/geostats-worker/internal/geo"
)

// Entity is one registered entity's current position snapshot. Sequence is
// the last position-change sequence number the registry applied, used to seed
// consumer watermarks on reseed.
type Entity struct {
	ID       string
	Position geo.Point
	Sequence uint64
}

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// NewClient creates a new registry client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// HealthCheck verifies the database connection is alive
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// LoadPositions retrieves the current position of every registered entity.
// Coordinates are validated on the way in so an out-of-range row can never
// reach an accumulator.
func (c *Client) LoadPositions(ctx context.Context) ([]Entity, error) {
	query := `
		SELECT entity_id, latitude, longitude, COALESCE(sequence, 0)
		FROM public.entity_positions
		ORDER BY entity_id ASC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var entities []Entity
	for rows.Next() {
		var (
			id       string
			lat, lon float64
			seq      int64
		)
		if err := rows.Scan(&id, &lat, &lon, &seq); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		pos, err := geo.NewPoint(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", id, err)
		}
		entities = append(entities, Entity{ID: id, Position: pos, Sequence: uint64(seq)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return entities, nil
}
