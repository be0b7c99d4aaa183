// Package persist defines the persistence adapter contract and its
// implementations: a SQLite-backed adapter for durable graph storage and a
// null adapter used when no backend is configured.
package persist

import (
	"context"

	"github.com/sysprov/pvm/graph"
)

// Adapter is the narrow interface to a durable graph store. The engine owns
// the connection lifecycle: Connect at pipeline start, Close at shutdown.
// Writes arrive in ingestion order from the engine's delta stream.
type Adapter interface {
	// Connect establishes the backend connection. Called lazily at
	// pipeline start; safe to call on an already connected adapter.
	Connect(ctx context.Context) error

	WriteEntity(ent graph.Entity) error
	WriteEdge(edge graph.Edge) error

	// Close flushes and releases the connection. Idempotent.
	Close() error
}
