// Package planstore optionally persists execution plans to a graph
// database so an external monitoring layer can query plan topology. The
// engine runs fine without it.
package planstore

import (
	"context"
)

// Record represents a single result row from a query.
type Record map[string]any

// Driver defines the graph database operations the store needs. Any
// Bolt-speaking database (Neo4j, Memgraph) can implement it; tests use an
// in-memory fake.
type Driver interface {
	// Execute runs a read query and returns results.
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)

	// ExecuteWrite runs a write query (CREATE, MERGE, SET, DELETE).
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error

	// Close releases database resources.
	Close() error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error
}

// Config holds database connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
}
