package engine

import (
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/persist"
	"github.com/sysprov/pvm/view"
)

// persistView mirrors every graph delta into the persistence adapter. It is
// activated automatically at pipeline start when a backend is configured,
// and runs under the same isolation rules as any other view: a failing
// backend marks this view failed without touching ingestion.
type persistView struct {
	adapter persist.Adapter
}

func (v *persistView) Descriptor() view.Descriptor {
	return view.Descriptor{
		Name:        "PersistView",
		Description: "View mirroring the graph into the persistence backend.",
		ReadWrite:   true,
	}
}

func (v *persistView) Activate(store *graph.Store, params view.Params) (view.Processor, error) {
	return &persistProcessor{adapter: v.adapter}, nil
}

type persistProcessor struct {
	adapter persist.Adapter
}

func (p *persistProcessor) OnEvent(delta graph.Delta) error {
	for _, ent := range delta.Created {
		if err := p.adapter.WriteEntity(ent); err != nil {
			return err
		}
	}
	for _, ent := range delta.Updated {
		if err := p.adapter.WriteEntity(ent); err != nil {
			return err
		}
	}
	for _, edge := range delta.Edges {
		if err := p.adapter.WriteEdge(edge); err != nil {
			return err
		}
	}
	return nil
}

func (p *persistProcessor) OnDrain() error { return nil }

var _ view.Type = (*persistView)(nil)
