package views

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/view"
)

// DBGView dumps every graph operation as a human-readable trace line.
// Intended for debugging the ingestion mapping, not for consumption.
type DBGView struct{}

// Descriptor implements view.Type.
func (v *DBGView) Descriptor() view.Descriptor {
	return view.Descriptor{
		Name:        "DBGView",
		Description: "View presenting debug output.",
		Params: []view.ParameterSpec{
			{Key: "output", Description: "Output file location"},
		},
	}
}

// Activate implements view.Type.
func (v *DBGView) Activate(store *graph.Store, params view.Params) (view.Processor, error) {
	path := params.GetOr("output", "./dbg.trace")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating output %s", path)
	}
	return &dbgProcessor{out: f, w: bufio.NewWriter(f)}, nil
}

type dbgProcessor struct {
	out *os.File
	w   *bufio.Writer
}

func (p *dbgProcessor) OnEvent(delta graph.Delta) error {
	for _, ent := range delta.Created {
		fmt.Fprintf(p.w, "%d create %s %d %s %v\n", delta.Seq, ent.Kind, ent.ID, ent.Key, ent.Attrs)
	}
	for _, ent := range delta.Updated {
		fmt.Fprintf(p.w, "%d update %s %d %v\n", delta.Seq, ent.Kind, ent.ID, ent.Attrs)
	}
	for _, edge := range delta.Edges {
		fmt.Fprintf(p.w, "%d edge %d -%s-> %d\n", delta.Seq, edge.Src, edge.Label, edge.Dst)
	}
	return nil
}

func (p *dbgProcessor) OnDrain() error {
	if err := p.w.Flush(); err != nil {
		p.out.Close()
		return errors.Wrap(err, "flushing output")
	}
	return errors.Wrap(p.out.Close(), "closing output")
}

var _ view.Type = (*DBGView)(nil)
