package view

import (
	"sync"

	"github.com/sysprov/pvm/graph"
)

// InstanceState is the lifecycle state of an activated view instance.
type InstanceState string

const (
	// StateRunning means the instance is observing graph deltas
	StateRunning InstanceState = "running"
	// StateFailed means the instance's processor returned an error and has
	// been detached; remaining deltas are discarded
	StateFailed InstanceState = "failed"
	// StateDrained means the instance flushed and acknowledged shutdown
	StateDrained InstanceState = "drained"
)

// Status is the queryable per-view status. Failures inside a view are
// captured here and never thrown back into the ingestion path.
type Status struct {
	State   InstanceState
	Err     error
	Dropped uint64
}

// Instance is an activated, running view bound to concrete parameters and
// to the graph store.
type Instance struct {
	id     int
	desc   Descriptor
	params Params
	proc   Processor

	ch   chan graph.Delta
	done chan struct{}

	// sendMu serializes publish against close. closed marks that
	// end-of-stream has been signaled; later deltas are discarded.
	sendMu sync.Mutex
	closed bool

	mu      sync.Mutex
	state   InstanceState
	err     error
	dropped uint64
}

func newInstance(id int, desc Descriptor, params Params, proc Processor) *Instance {
	buffer := desc.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	inst := &Instance{
		id:     id,
		desc:   desc,
		params: params,
		proc:   proc,
		ch:     make(chan graph.Delta, buffer),
		done:   make(chan struct{}),
		state:  StateRunning,
	}
	go inst.run()
	return inst
}

// ID returns the non-negative instance id.
func (i *Instance) ID() int { return i.id }

// Descriptor returns the descriptor the instance was activated from.
func (i *Instance) Descriptor() Descriptor { return i.desc }

// Params returns the concrete parameter bindings.
func (i *Instance) Params() Params { return i.params }

// Status returns the current per-view status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{State: i.state, Err: i.err, Dropped: i.dropped}
}

// run consumes the delta channel until it closes, then drains the
// processor. Runs on its own goroutine so a slow or blocking view never
// stalls ingestion beyond its declared overflow policy.
func (i *Instance) run() {
	defer close(i.done)

	for delta := range i.ch {
		if i.failed() {
			// Detached: discard the remaining buffered deltas.
			continue
		}
		if err := i.proc.OnEvent(delta); err != nil {
			i.fail(err)
		}
	}

	if i.failed() {
		return
	}
	if err := i.proc.OnDrain(); err != nil {
		i.fail(err)
		return
	}
	i.mu.Lock()
	i.state = StateDrained
	i.mu.Unlock()
}

func (i *Instance) failed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == StateFailed
}

func (i *Instance) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateFailed
	i.err = err
}

// publish offers a delta to the instance under its overflow policy. Deltas
// arriving after end-of-stream are discarded; a view failure or a drained
// instance never propagates back to the publisher.
func (i *Instance) publish(delta graph.Delta) {
	if i.failed() {
		return
	}
	i.sendMu.Lock()
	defer i.sendMu.Unlock()
	if i.closed {
		return
	}
	if i.desc.Overflow != OverflowDropOldest {
		// Block-producer: ingestion waits for the view to catch up.
		i.ch <- delta
		return
	}
	for {
		select {
		case i.ch <- delta:
			return
		default:
		}
		// Buffer full: evict the oldest buffered delta and retry.
		select {
		case <-i.ch:
			i.mu.Lock()
			i.dropped++
			i.mu.Unlock()
		default:
		}
	}
}

// closeAndWait signals end-of-stream and blocks until the instance has
// flushed and acknowledged. Idempotent.
func (i *Instance) closeAndWait() {
	i.sendMu.Lock()
	if !i.closed {
		i.closed = true
		close(i.ch)
	}
	i.sendMu.Unlock()
	<-i.done
}
