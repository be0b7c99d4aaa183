package views

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/view"
)

// CSVView exports the graph as two append-only CSV files, nodes.csv and
// edges.csv, suitable for loading into external analysis tooling. Updated
// entities append a new row with the same id; consumers keep the last row
// per id.
type CSVView struct{}

// Descriptor implements view.Type.
func (v *CSVView) Descriptor() view.Descriptor {
	return view.Descriptor{
		Name:        "CSVView",
		Description: "View exporting the graph as CSV files.",
		Params: []view.ParameterSpec{
			{Key: "output", Description: "Output directory"},
		},
		Backfill: true,
	}
}

// Activate implements view.Type.
func (v *CSVView) Activate(store *graph.Store, params view.Params) (view.Processor, error) {
	dir := params.GetOr("output", ".")

	nodes, err := os.Create(filepath.Join(dir, "nodes.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "creating nodes.csv")
	}
	edges, err := os.Create(filepath.Join(dir, "edges.csv"))
	if err != nil {
		nodes.Close()
		return nil, errors.Wrap(err, "creating edges.csv")
	}

	p := &csvProcessor{
		nodesFile: nodes,
		edgesFile: edges,
		nodes:     csv.NewWriter(nodes),
		edges:     csv.NewWriter(edges),
	}
	if err := p.nodes.Write([]string{"id", "kind", "key", "attrs", "first_seen"}); err != nil {
		p.closeFiles()
		return nil, errors.Wrap(err, "writing nodes header")
	}
	if err := p.edges.Write([]string{"seq", "src", "dst", "label", "at"}); err != nil {
		p.closeFiles()
		return nil, errors.Wrap(err, "writing edges header")
	}
	return p, nil
}

type csvProcessor struct {
	nodesFile *os.File
	edgesFile *os.File
	nodes     *csv.Writer
	edges     *csv.Writer
}

func (p *csvProcessor) OnEvent(delta graph.Delta) error {
	for _, ent := range delta.Created {
		if err := p.writeNode(ent); err != nil {
			return err
		}
	}
	for _, ent := range delta.Updated {
		if err := p.writeNode(ent); err != nil {
			return err
		}
	}
	for _, edge := range delta.Edges {
		row := []string{
			strconv.FormatUint(edge.Seq, 10),
			strconv.FormatInt(int64(edge.Src), 10),
			strconv.FormatInt(int64(edge.Dst), 10),
			edge.Label,
			edge.At.Format(time.RFC3339Nano),
		}
		if err := p.edges.Write(row); err != nil {
			return errors.Wrap(err, "writing edge row")
		}
	}
	p.nodes.Flush()
	p.edges.Flush()
	if err := p.nodes.Error(); err != nil {
		return errors.Wrap(err, "flushing nodes.csv")
	}
	return errors.Wrap(p.edges.Error(), "flushing edges.csv")
}

func (p *csvProcessor) writeNode(ent graph.Entity) error {
	attrs, err := json.Marshal(ent.Attrs)
	if err != nil {
		return errors.Wrapf(err, "encoding attrs for entity %d", ent.ID)
	}
	row := []string{
		strconv.FormatInt(int64(ent.ID), 10),
		string(ent.Kind),
		ent.Key.String(),
		string(attrs),
		ent.FirstSeen.Format(time.RFC3339Nano),
	}
	return errors.Wrap(p.nodes.Write(row), "writing node row")
}

func (p *csvProcessor) OnDrain() error {
	p.nodes.Flush()
	p.edges.Flush()
	nerr := p.nodes.Error()
	eerr := p.edges.Error()
	p.closeFiles()
	if nerr != nil {
		return errors.Wrap(nerr, "flushing nodes.csv")
	}
	return errors.Wrap(eerr, "flushing edges.csv")
}

func (p *csvProcessor) closeFiles() {
	p.nodesFile.Close()
	p.edgesFile.Close()
}

var _ view.Type = (*CSVView)(nil)
