// Package sym defines canonical symbols for pipeline subsystems.
// The glyphs are attached to structured log fields so that log lines from
// different subsystems are visually distinguishable in console output.
package sym

// Subsystem glyphs.
const (
	// Pipeline marks engine lifecycle transitions
	Pipeline = "⟳"
	// Ingest marks ingestion reader activity
	Ingest = "⇣"
	// Graph marks provenance graph mutations
	Graph = "◉"
	// View marks view registry and instance activity
	View = "▤"
	// DB marks persistence adapter activity
	DB = "⛁"
)

// All lists every defined glyph, in a stable order.
var All = []string{Pipeline, Ingest, Graph, View, DB}
