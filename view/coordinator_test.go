package view

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
)

func testCoordinator(t *testing.T) (*Coordinator, *graph.Store) {
	t.Helper()
	store := graph.NewStore(zaptest.NewLogger(t).Sugar())
	return NewCoordinator(store, 2, zaptest.NewLogger(t).Sugar()), store
}

func applyOne(store *graph.Store) graph.Delta {
	return store.Mutate(time.Now(), func(m *graph.Mutation) {
		m.Declare(graph.KindProcess, uuid.New(), map[string]string{"exec": "sh"})
	})
}

func TestActivateValidatesParams(t *testing.T) {
	c, _ := testCoordinator(t)

	vt := newMockType("CSV")
	vt.desc.Params = []ParameterSpec{
		{Key: "output", Required: true},
		{Key: "delimiter", Required: false},
	}

	t.Run("missing required", func(t *testing.T) {
		_, err := c.Activate(vt, Params{"delimiter": ";"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := c.Activate(vt, Params{"output": "x.csv", "color": "red"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("valid", func(t *testing.T) {
		inst, err := c.Activate(vt, Params{"output": "x.csv"})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, inst.ID(), 0)
	})
}

func TestInstanceIDsIncrease(t *testing.T) {
	c, _ := testCoordinator(t)
	a, err := c.Activate(newMockType("A"), nil)
	require.NoError(t, err)
	b, err := c.Activate(newMockType("B"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.ID())
	assert.Equal(t, 1, b.ID())

	got, err := c.Instance(1)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = c.Instance(99)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestPublishDeliversInOrder(t *testing.T) {
	c, store := testCoordinator(t)
	vt := newMockType("Ordered")
	_, err := c.Activate(vt, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Publish(applyOne(store))
	}
	c.Drain()

	got := vt.received()
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.Equal(t, 1, vt.drained())
}

func TestNoBackfillByDefault(t *testing.T) {
	c, store := testCoordinator(t)

	// History ingested before activation.
	for i := 0; i < 3; i++ {
		c.Publish(applyOne(store))
	}

	vt := newMockType("Late")
	_, err := c.Activate(vt, nil)
	require.NoError(t, err)
	c.Drain()

	assert.Empty(t, vt.received())
}

func TestBackfillCapableDescriptor(t *testing.T) {
	c, store := testCoordinator(t)

	for i := 0; i < 3; i++ {
		c.Publish(applyOne(store))
	}

	vt := newMockType("Replay")
	vt.desc.Backfill = true
	_, err := c.Activate(vt, nil)
	require.NoError(t, err)
	c.Drain()

	got := vt.received()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Created, 3)
}

func TestFailingViewIsIsolated(t *testing.T) {
	c, store := testCoordinator(t)

	bad := newMockType("Bad")
	bad.failOn = 2
	good := newMockType("Good")

	badInst, err := c.Activate(bad, nil)
	require.NoError(t, err)
	_, err = c.Activate(good, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Publish(applyOne(store))
	}
	c.Drain()

	// The healthy view received everything and drained.
	assert.Len(t, good.received(), 5)
	assert.Equal(t, 1, good.drained())

	// The failing view is captured as per-view status, not propagated.
	st := badInst.Status()
	assert.Equal(t, StateFailed, st.State)
	require.Error(t, st.Err)
	assert.Equal(t, 0, bad.drained())
}

func TestDrainIsIdempotentBarrier(t *testing.T) {
	c, store := testCoordinator(t)
	vt := newMockType("Once")
	inst, err := c.Activate(vt, nil)
	require.NoError(t, err)

	c.Publish(applyOne(store))
	c.Drain()
	c.Drain()

	assert.Equal(t, 1, vt.drained())
	assert.Equal(t, StateDrained, inst.Status().State)

	// No activation after drain.
	_, err = c.Activate(newMockType("Tardy"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestPublishAfterDrainIsDiscarded(t *testing.T) {
	c, store := testCoordinator(t)
	vt := newMockType("Settled")
	inst, err := c.Activate(vt, nil)
	require.NoError(t, err)

	c.Publish(applyOne(store))
	c.Drain()

	// A delta arriving after the barrier must be dropped, never crash the
	// publisher or reach a flushed view.
	require.NotPanics(t, func() {
		c.Publish(applyOne(store))
	})

	assert.Len(t, vt.received(), 1)
	assert.Equal(t, StateDrained, inst.Status().State)
}

func TestInstancePublishAfterCloseIsDiscarded(t *testing.T) {
	vt := newMockType("Flushed")
	inst := newInstance(0, vt.desc, nil, vt)

	inst.publish(graph.Delta{Seq: 1})
	inst.closeAndWait()
	require.NotPanics(t, func() {
		inst.publish(graph.Delta{Seq: 2})
	})
	// closeAndWait is idempotent once the channel is closed.
	inst.closeAndWait()

	assert.Len(t, vt.received(), 1)
	assert.Equal(t, StateDrained, inst.Status().State)
}

func TestDropOldestOverflow(t *testing.T) {
	c, store := testCoordinator(t)

	vt := newMockType("Lossy")
	vt.desc.Overflow = OverflowDropOldest
	vt.desc.Buffer = 1

	// Block the consumer so the buffer fills: the first OnEvent call parks
	// until we release it.
	release := make(chan struct{})
	blocked := &blockingProcessor{inner: vt, release: release}
	wrapper := &wrapperType{desc: vt.desc, proc: blocked}

	inst, err := c.Activate(wrapper, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		c.Publish(applyOne(store))
	}
	close(release)
	c.Drain()

	st := inst.Status()
	assert.Equal(t, StateDrained, st.State)
	assert.Greater(t, st.Dropped, uint64(0))
	// Whatever survived arrived in order.
	got := vt.received()
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

type wrapperType struct {
	desc Descriptor
	proc Processor
}

func (w *wrapperType) Descriptor() Descriptor { return w.desc }
func (w *wrapperType) Activate(store *graph.Store, params Params) (Processor, error) {
	return w.proc, nil
}

type blockingProcessor struct {
	inner   Processor
	release chan struct{}
	first   bool
}

func (b *blockingProcessor) OnEvent(delta graph.Delta) error {
	if !b.first {
		b.first = true
		<-b.release
	}
	return b.inner.OnEvent(delta)
}

func (b *blockingProcessor) OnDrain() error { return b.inner.OnDrain() }
