// Package view provides the view plugin model for the provenance pipeline.
//
// A view type is a registered plugin descriptor plus an activation function.
// Activating a type binds it to the graph store with concrete parameters and
// yields a processor that observes graph deltas until the pipeline drains.
//
// Views are isolated from ingestion and from each other: a processor that
// fails is marked failed and detached, never aborting the pipeline.
package view

import (
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
)

// ParameterSpec declares one parameter a view type accepts.
type ParameterSpec struct {
	Key         string
	Description string
	Required    bool
}

// OverflowPolicy selects what happens when a view's bounded delta buffer is
// full: block the producer or drop the oldest buffered delta.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// DefaultBuffer is the per-instance delta buffer size when a descriptor
// does not set one.
const DefaultBuffer = 4096

// Descriptor describes a view type: its unique name, its parameter schema,
// and its delivery semantics. Immutable once registered.
type Descriptor struct {
	// Name is unique within a registry, matched exactly and case-sensitively
	Name        string
	Description string
	Params      []ParameterSpec

	// Backfill declares that instances activated mid-stream receive a
	// synthetic delta replaying already-ingested history.
	Backfill bool

	// ReadWrite declares a read-write lease on the graph store. Most views
	// hold a read-only lease.
	ReadWrite bool

	// Overflow and Buffer bound the instance's delta channel. Zero Buffer
	// means DefaultBuffer; empty Overflow means OverflowBlock.
	Overflow OverflowPolicy
	Buffer   int

	// EngineVersion is an optional semver constraint on the engine this
	// view type is compatible with.
	EngineVersion string
}

// Param looks up a ParameterSpec by key.
func (d Descriptor) Param(key string) (ParameterSpec, bool) {
	for _, p := range d.Params {
		if p.Key == key {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Params are the concrete key/value bindings supplied at activation.
type Params map[string]string

// GetOr returns the bound value for key, or def when unbound.
func (p Params) GetOr(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Processor is the running side of an activated view. OnEvent is invoked by
// the coordinator for every delta applied after activation, in ingestion
// order. OnDrain is the final no-more-data notification; the processor must
// flush buffered output before returning.
type Processor interface {
	OnEvent(delta graph.Delta) error
	OnDrain() error
}

// Type is a view plugin known to the registry.
type Type interface {
	Descriptor() Descriptor

	// Activate binds the type to the graph store with concrete parameters.
	// Parameter validation against the descriptor happens before Activate
	// is called; Activate only sees known keys.
	Activate(store *graph.Store, params Params) (Processor, error)
}

// validateParams checks supplied bindings against the descriptor schema:
// every required key present, no unknown keys.
func validateParams(d Descriptor, params Params) error {
	for _, spec := range d.Params {
		if _, ok := params[spec.Key]; spec.Required && !ok {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"view %s: required parameter %q missing", d.Name, spec.Key)
		}
	}
	for key := range params {
		if _, ok := d.Param(key); !ok {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"view %s: unknown parameter %q", d.Name, key)
		}
	}
	return nil
}
