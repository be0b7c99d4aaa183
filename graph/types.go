// Package graph implements the in-memory provenance graph store.
//
// The store is the single source of truth for the pipeline: the ingestion
// reader mutates it one event at a time and views observe it through deltas.
// Each event is applied as one atomic unit: identity resolution, attribute
// merge, and edge append become visible together or not at all.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// ID is a stable entity identity. IDs are assigned at first observation and
// never reused within a store's lifetime, even after the entity's trace key
// is rebound to a newer entity.
type ID int64

// Kind classifies an entity.
type Kind string

const (
	KindProcess Kind = "process"
	KindFile    Kind = "file"
	KindSocket  Kind = "socket"
	KindPipe    Kind = "pipe"
	KindPtty    Kind = "ptty"
)

// Entity is a graph node. Attrs carry the mutable attribute set; later
// events referencing the same identity merge attributes last-write-wins.
type Entity struct {
	ID        ID
	Kind      Kind
	Key       uuid.UUID
	Attrs     map[string]string
	FirstSeen time.Time
}

// clone returns a deep copy safe to hand outside the store lock.
func (e *Entity) clone() Entity {
	attrs := make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	c := *e
	c.Attrs = attrs
	return c
}

// Attr returns the current value of an attribute, or "" when unset.
func (e Entity) Attr(key string) string {
	return e.Attrs[key]
}

// Edge is a directed, timestamped relation between two entities. Edges are
// append-only and carry a sequence number monotone in ingestion order.
type Edge struct {
	Seq   uint64
	Src   ID
	Dst   ID
	Label string
	At    time.Time
}

// Delta describes the effect of one applied event. Entities are copies;
// holding a Delta never pins the store's internal state.
type Delta struct {
	// Seq is the event sequence number, monotone per store
	Seq     uint64
	Created []Entity
	Updated []Entity
	Edges   []Edge
}

// Empty reports whether the event had no observable effect on the graph.
func (d Delta) Empty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Edges) == 0
}
