// Package ingest implements the streaming ingestion contract: bytes in,
// graph mutations out, in strict arrival order.
//
// The reader is format-agnostic. A Decoder (ingest/cadets provides the
// cadets-json one) turns the byte stream into discrete events; each event
// knows how to map itself onto the graph through one atomic mutation.
package ingest

import (
	"io"
	"time"

	"github.com/sysprov/pvm/graph"
)

// Event is one decoded audit record.
type Event interface {
	// Name identifies the record type for diagnostics.
	Name() string
	// Time is the event's own timestamp, carried onto graph edges.
	Time() time.Time
	// Apply maps the event onto the graph inside one atomic mutation.
	// handled is false when the record type has no mapping; an error means
	// the record is malformed (missing required fields).
	Apply(m *graph.Mutation) (handled bool, err error)
}

// Decoder yields events from a byte stream in arrival order.
//
// Next returns io.EOF at end of stream. A record-level decode failure is
// reported by wrapping errors.ErrCorruptRecord; the decoder must remain
// usable afterward so the reader can skip and continue. Any other error is
// a fatal stream failure. Buffering (the need-more-data case) is internal
// to the decoder.
type Decoder interface {
	Next() (Event, error)
}

// DecoderFactory binds a decoder implementation to a reader.
type DecoderFactory func(r io.Reader) Decoder

// Stats summarizes one ingestion run.
type Stats struct {
	// Applied counts records decoded and mapped onto the graph
	Applied uint64
	// Corrupt counts malformed records that were skipped
	Corrupt uint64
	// Unhandled collects record type names with no mapping
	Unhandled map[string]uint64
}
