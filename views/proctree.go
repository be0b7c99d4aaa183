package views

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/view"
)

// ProcTreeView emits the process tree as JSON lines: one record per
// process the first time it appears or whenever its display name changes,
// and one record per edge between two already-emitted processes.
type ProcTreeView struct{}

// Descriptor implements view.Type.
func (v *ProcTreeView) Descriptor() view.Descriptor {
	return view.Descriptor{
		Name:        "ProcTreeView",
		Description: "View for storing a process tree.",
		Params: []view.ParameterSpec{
			{Key: "output", Description: "Output file location"},
			{Key: "meta_key", Description: "Metadata key for process name"},
		},
	}
}

// Activate implements view.Type.
func (v *ProcTreeView) Activate(store *graph.Store, params view.Params) (view.Processor, error) {
	path := params.GetOr("output", "./proc_tree.json")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating output %s", path)
	}
	return &procTreeProcessor{
		out:     f,
		w:       bufio.NewWriter(f),
		metaKey: params.GetOr("meta_key", "cmdline"),
		nodes:   make(map[graph.ID]string),
	}, nil
}

type procNodeRecord struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	Cmd  string `json:"cmd,omitempty"`
}

type procEdgeRecord struct {
	Type string `json:"type"`
	Src  int64  `json:"src"`
	Dst  int64  `json:"dst"`
}

type procTreeProcessor struct {
	out     *os.File
	w       *bufio.Writer
	metaKey string

	// nodes holds the last emitted display name per process, so renames
	// re-emit and repeats do not.
	nodes map[graph.ID]string
}

func (p *procTreeProcessor) OnEvent(delta graph.Delta) error {
	enc := json.NewEncoder(p.w)

	emit := func(ent graph.Entity) error {
		if ent.Kind != graph.KindProcess {
			return nil
		}
		cmd := ent.Attrs[p.metaKey]
		if prev, seen := p.nodes[ent.ID]; seen && prev == cmd {
			return nil
		}
		p.nodes[ent.ID] = cmd
		return enc.Encode(procNodeRecord{Type: "Node", ID: int64(ent.ID), Cmd: cmd})
	}

	for _, ent := range delta.Created {
		if err := emit(ent); err != nil {
			return errors.Wrap(err, "writing node record")
		}
	}
	for _, ent := range delta.Updated {
		if err := emit(ent); err != nil {
			return errors.Wrap(err, "writing node record")
		}
	}
	for _, edge := range delta.Edges {
		_, srcKnown := p.nodes[edge.Src]
		_, dstKnown := p.nodes[edge.Dst]
		if !srcKnown || !dstKnown {
			continue
		}
		rec := procEdgeRecord{Type: "Edge", Src: int64(edge.Src), Dst: int64(edge.Dst)}
		if err := enc.Encode(rec); err != nil {
			return errors.Wrap(err, "writing edge record")
		}
	}
	return errors.Wrap(p.w.Flush(), "flushing output")
}

func (p *procTreeProcessor) OnDrain() error {
	if err := p.w.Flush(); err != nil {
		p.out.Close()
		return errors.Wrap(err, "flushing output")
	}
	return errors.Wrap(p.out.Close(), "closing output")
}

var _ view.Type = (*ProcTreeView)(nil)
