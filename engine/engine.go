// Package engine owns the pipeline lifecycle: the state machine that wires
// configuration, persistence, the graph store, the view catalog, and
// ingestion together and tears them down in order.
package engine

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/sysprov/pvm/cfg"
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/ingest"
	"github.com/sysprov/pvm/persist"
	"github.com/sysprov/pvm/sym"
	"github.com/sysprov/pvm/version"
	"github.com/sysprov/pvm/view"
	"github.com/sysprov/pvm/views"
)

// State is the pipeline lifecycle state. Transitions only move forward:
// Initialized, Running, Draining, ShutDown, Destroyed.
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateDraining    State = "draining"
	StateShutDown    State = "shutdown"
	StateDestroyed   State = "destroyed"
)

// Engine is one pipeline instance: exactly one graph store, one persistence
// adapter, one view catalog, and zero or more view instances. Independent
// engines do not interfere; each serializes its own ingestion.
type Engine struct {
	cfg cfg.Config
	log *zap.SugaredLogger

	store    *graph.Store
	registry *view.Registry
	coord    *view.Coordinator
	adapter  persist.Adapter

	mu    sync.Mutex
	state State

	// ingestMu serializes IngestStream calls: one stream at a time per
	// engine preserves arrival-order application.
	ingestMu sync.Mutex
}

// New resolves the configuration and constructs an engine in the
// Initialized state: empty graph, populated view catalog, persistence
// adapter built but not yet connected.
func New(c cfg.Config, log *zap.SugaredLogger) (*Engine, error) {
	resolved, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	log = log.Named("engine")

	store := graph.NewStore(log)
	registry := view.NewRegistry(version.Version, log)

	if !resolved.SuppressDefaultViews {
		if err := views.RegisterBuiltins(registry); err != nil {
			registry.Close()
			store.Close()
			return nil, err
		}
	}
	if err := registry.DiscoverPath(resolved.PluginPath, nil, resolved.StrictMode); err != nil {
		registry.Close()
		store.Close()
		return nil, err
	}

	var adapter persist.Adapter
	if resolved.Persistence != nil {
		adapter = persist.NewSQLiteAdapter(resolved.Persistence.Target, resolved.Persistence.Namespace, log)
	} else {
		adapter = persist.NewNullAdapter()
	}

	e := &Engine{
		cfg:      resolved,
		log:      log,
		store:    store,
		registry: registry,
		coord:    view.NewCoordinator(store, resolved.Workers, log),
		adapter:  adapter,
		state:    StateInitialized,
	}
	log.Infow("Pipeline initialized",
		"symbol", sym.Pipeline,
		"mode", resolved.Mode,
		"workers", resolved.Workers,
		"persistence", resolved.Persistence != nil,
	)
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions Initialized to Running: connects the persistence
// adapter with bounded retries, freezes the view catalog, and activates the
// default persistence view. Idempotent when already Running; fails with
// ErrInvalidState once the pipeline has shut down.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return nil
	case StateInitialized:
	default:
		return errors.Wrapf(errors.ErrInvalidState, "cannot start pipeline from state %s", e.state)
	}

	if err := persist.ConnectWithRetry(ctx, e.adapter, e.log); err != nil {
		if e.cfg.StrictMode {
			return err
		}
		// Degrade to in-memory only rather than refusing to run.
		e.log.Warnw("Persistence unavailable, continuing without a durable backend",
			"symbol", sym.DB,
			"error", err,
		)
		e.adapter = persist.NewNullAdapter()
	}

	// The catalog is immutable while running; no plugin hot-reload.
	e.registry.Freeze()

	_, isNull := e.adapter.(*persist.NullAdapter)
	if !isNull && !e.cfg.SuppressDefaultViews {
		if _, err := e.coord.Activate(&persistView{adapter: e.adapter}, nil); err != nil {
			return err
		}
	}

	e.state = StateRunning
	e.log.Infow("Pipeline running", "symbol", sym.Pipeline)
	return nil
}

// ListViewTypes returns the view catalog ordered by name. Side-effect-free;
// valid in any state before Destroyed.
func (e *Engine) ListViewTypes() ([]view.Descriptor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroyed {
		return nil, errors.Wrap(errors.ErrInvalidState, "engine destroyed")
	}
	return e.registry.Descriptors(), nil
}

// CreateViewByName resolves a view type by exact, case-sensitive name and
// activates it with the given parameters, returning the instance id. The
// instance observes mutations from activation onward; history is replayed
// only for backfill-capable descriptors.
func (e *Engine) CreateViewByName(name string, params view.Params) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateInitialized, StateRunning:
	default:
		return -1, errors.Wrapf(errors.ErrInvalidState, "cannot activate views in state %s", e.state)
	}

	t, err := e.registry.Resolve(name)
	if err != nil {
		return -1, err
	}
	inst, err := e.coord.Activate(t, params)
	if err != nil {
		return -1, err
	}
	return inst.ID(), nil
}

// ListViewInstances returns the active view instances in activation order.
func (e *Engine) ListViewInstances() ([]*view.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroyed {
		return nil, errors.Wrap(errors.ErrInvalidState, "engine destroyed")
	}
	return e.coord.Instances(), nil
}

// ViewStatus returns the status of one view instance.
func (e *Engine) ViewStatus(id int) (view.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroyed {
		return view.Status{}, errors.Wrap(errors.ErrInvalidState, "engine destroyed")
	}
	inst, err := e.coord.Instance(id)
	if err != nil {
		return view.Status{}, err
	}
	return inst.Status(), nil
}

// IngestStream decodes r with the given decoder factory and applies every
// event to the graph, blocking until end of stream or a fatal stream error.
// Must be called while Running; fails with ErrNotRunning otherwise.
func (e *Engine) IngestStream(ctx context.Context, r io.Reader, factory ingest.DecoderFactory) (ingest.Stats, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	// Checked under ingestMu so a stream cannot slip in between the drain
	// barrier and the state transition of a concurrent Shutdown.
	e.mu.Lock()
	if e.state != StateRunning {
		state := e.state
		e.mu.Unlock()
		return ingest.Stats{}, errors.Wrapf(errors.ErrNotRunning, "pipeline is %s", state)
	}
	reader := ingest.NewReader(e.store, e.coord.Publish, e.log)
	e.mu.Unlock()

	return reader.Ingest(ctx, factory(r))
}

// CountProcesses returns the number of process entities in the graph.
// Valid in any state after construction until Destroyed.
func (e *Engine) CountProcesses() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroyed {
		return 0, errors.Wrap(errors.ErrInvalidState, "engine destroyed")
	}
	return e.store.CountProcesses(), nil
}

// Shutdown drains every view instance, waits for each to flush, and closes
// the persistence adapter. The shutdown barrier guarantees no view output
// is left in flight. Idempotent.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	switch e.state {
	case StateShutDown:
		e.mu.Unlock()
		return nil
	case StateDestroyed:
		e.mu.Unlock()
		return errors.Wrap(errors.ErrInvalidState, "engine destroyed")
	}
	e.state = StateDraining
	e.mu.Unlock()
	e.log.Infow("Pipeline draining", "symbol", sym.Pipeline)

	// Leaving the Running state refuses new streams; holding ingestMu waits
	// for an in-flight stream so its tail reaches the views before the
	// barrier starts.
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	e.coord.Drain()

	if err := e.adapter.Close(); err != nil {
		e.log.Warnw("Closing persistence adapter failed",
			"symbol", sym.DB,
			"error", err,
		)
	}
	e.registry.Close()

	e.mu.Lock()
	e.state = StateShutDown
	e.mu.Unlock()
	e.log.Infow("Pipeline shut down",
		"symbol", sym.Pipeline,
		"entities", e.store.EntityCount(),
		"edges", e.store.EdgeCount(),
	)
	return nil
}

// Cleanup releases every owned resource. The engine is invalid for any
// further call. Shutdown is performed first when it has not happened yet.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrInvalidState, "engine already destroyed")
	}
	needShutdown := e.state != StateShutDown
	e.mu.Unlock()

	if needShutdown {
		if err := e.Shutdown(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Close()
	e.state = StateDestroyed
	return nil
}
