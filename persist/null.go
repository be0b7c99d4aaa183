package persist

import (
	"context"

	"github.com/sysprov/pvm/graph"
)

// NullAdapter accepts writes and discards them. Used when no persistence
// target is configured, and as the degraded fallback when the configured
// backend is unreachable in non-strict mode.
type NullAdapter struct{}

// NewNullAdapter creates a discarding adapter.
func NewNullAdapter() *NullAdapter { return &NullAdapter{} }

func (*NullAdapter) Connect(ctx context.Context) error  { return nil }
func (*NullAdapter) WriteEntity(ent graph.Entity) error { return nil }
func (*NullAdapter) WriteEdge(edge graph.Edge) error    { return nil }
func (*NullAdapter) Close() error                       { return nil }

var _ Adapter = (*NullAdapter)(nil)
