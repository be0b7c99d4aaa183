package view

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/sym"
)

// Coordinator owns the running view instances of one pipeline. It receives
// every graph delta from the engine and fans it out to instances under
// their declared overflow policies. Views never observe a partially applied
// event: deltas arrive whole, in ingestion order.
type Coordinator struct {
	store *graph.Store
	log   *zap.SugaredLogger

	// workers bounds how many instances drain in parallel at shutdown.
	workers int

	// Publish runs during ingestion while Activate may arrive from another
	// goroutine, so the instance table is guarded.
	mu      sync.Mutex
	insts   []*Instance
	nextID  int
	drained bool
}

// NewCoordinator creates a coordinator bound to a graph store.
func NewCoordinator(store *graph.Store, workers int, log *zap.SugaredLogger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		store:   store,
		workers: workers,
		log:     log.Named("view.coordinator"),
	}
}

// Activate validates parameters against the descriptor, activates the view
// type against the graph store, and begins delivering subsequent deltas to
// it. History already ingested is not reprocessed unless the descriptor
// declares itself backfill-capable.
func (c *Coordinator) Activate(t Type, params Params) (*Instance, error) {
	d := t.Descriptor()
	if err := validateParams(d, params); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drained {
		return nil, errors.Wrap(errors.ErrInvalidState, "coordinator already drained")
	}

	proc, err := t.Activate(c.store, params)
	if err != nil {
		return nil, errors.Wrapf(err, "activating view %s", d.Name)
	}

	inst := newInstance(c.nextID, d, params, proc)
	c.nextID++
	c.insts = append(c.insts, inst)

	if d.Backfill {
		// Replay already-ingested history as one synthetic delta so the
		// instance starts from the current graph rather than empty.
		inst.publish(graph.Delta{
			Created: c.store.Entities(),
			Edges:   c.store.Edges(),
		})
	}

	c.log.Infow("View activated",
		"symbol", sym.View,
		"view", d.Name,
		"instance", inst.ID(),
		"backfill", d.Backfill,
	)
	return inst, nil
}

// Publish fans a delta out to every active instance. Called by the engine
// for each applied event, never by ingestion directly. Deltas published
// after the drain barrier are discarded.
func (c *Coordinator) Publish(delta graph.Delta) {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return
	}
	insts := make([]*Instance, len(c.insts))
	copy(insts, c.insts)
	c.mu.Unlock()

	for _, inst := range insts {
		inst.publish(delta)
	}
}

// Instances returns the current instance table in activation order.
func (c *Coordinator) Instances() []*Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Instance, len(c.insts))
	copy(out, c.insts)
	return out
}

// Instance returns the instance with the given id.
func (c *Coordinator) Instance(id int) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range c.insts {
		if inst.ID() == id {
			return inst, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrInvalidArgument, "no view instance %d", id)
}

// Drain is the shutdown barrier: every instance receives end-of-stream and
// Drain returns only after each has flushed and acknowledged. Idempotent.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drained {
		return
	}
	c.drained = true

	// Instances flush independently; draining them in parallel bounds
	// shutdown latency by the slowest view, not the sum.
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	for _, inst := range c.insts {
		wg.Add(1)
		sem <- struct{}{}
		go func(inst *Instance) {
			defer wg.Done()
			inst.closeAndWait()
			<-sem
		}(inst)
	}
	wg.Wait()

	for _, inst := range c.insts {
		st := inst.Status()
		if st.State == StateFailed {
			c.log.Warnw("View instance failed",
				"symbol", sym.View,
				"view", inst.Descriptor().Name,
				"instance", inst.ID(),
				"error", st.Err,
			)
		} else if st.Dropped > 0 {
			c.log.Warnw("View instance dropped deltas under overflow policy",
				"symbol", sym.View,
				"view", inst.Descriptor().Name,
				"instance", inst.ID(),
				"dropped", st.Dropped,
			)
		}
	}
}
