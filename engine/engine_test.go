package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sysprov/pvm/cfg"
	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/ingest/cadets"
	"github.com/sysprov/pvm/view"
)

func testConfig() cfg.Config {
	return cfg.Config{Mode: cfg.ModeManual, Workers: 2}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { e.Cleanup() })
	return e
}

// forkChainTrace builds a CADETS trace of execs and forks producing the
// process chain P1 -> P2 -> P3.
func forkChainTrace(t *testing.T) string {
	t.Helper()
	procs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	names := []string{"init", "sh", "ls"}

	record := func(fields map[string]any) string {
		raw, err := json.Marshal(fields)
		require.NoError(t, err)
		return string(raw)
	}

	var lines []string
	lines = append(lines, "[")
	ts := int64(1469070517000000000)
	for i := 0; i < 2; i++ {
		lines = append(lines, ", "+record(map[string]any{
			"event":        "audit:event:aue_fork:",
			"time":         ts + int64(i),
			"pid":          100 + i,
			"ppid":         1,
			"tid":          100 + i,
			"uid":          0,
			"exec":         names[i],
			"retval":       101 + i,
			"subjprocuuid": procs[i].String(),
			"subjthruuid":  procs[i].String(),
			"ret_objuuid1": procs[i+1].String(),
		}))
	}
	// Name the child processes via their exec events.
	for i := 1; i < 3; i++ {
		bin, ld := uuid.New(), uuid.New()
		lines = append(lines, ", "+record(map[string]any{
			"event":        "audit:event:aue_execve:",
			"time":         ts + 10 + int64(i),
			"pid":          100 + i,
			"ppid":         100 + i - 1,
			"tid":          100 + i,
			"uid":          0,
			"exec":         names[i],
			"retval":       0,
			"subjprocuuid": procs[i].String(),
			"subjthruuid":  procs[i].String(),
			"cmdline":      names[i],
			"arg_objuuid1": bin.String(),
			"upath1":       "/bin/" + names[i],
			"arg_objuuid2": ld.String(),
			"upath2":       "/libexec/ld-elf.so.1",
		}))
	}
	lines = append(lines, "]")
	return strings.Join(lines, "\n")
}

func ingestTrace(t *testing.T, e *Engine, trace string) {
	t.Helper()
	stats, err := e.IngestStream(context.Background(), strings.NewReader(trace), cadets.NewDecoder)
	require.NoError(t, err)
	require.Zero(t, stats.Corrupt)
}

func TestInitThenCleanupWithoutStart(t *testing.T) {
	e, err := New(testConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, e.Cleanup())

	_, err = e.CountProcesses()
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	err = e.Cleanup()
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := New(cfg.Config{Mode: "turbo"}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestStartIdempotentWhileRunning(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.State())
}

func TestStartAfterShutdownFails(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Shutdown())

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestIngestBeforeStartLeavesGraphEmpty(t *testing.T) {
	e := testEngine(t)

	_, err := e.IngestStream(context.Background(), strings.NewReader(forkChainTrace(t)), cadets.NewDecoder)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotRunning))

	n, err := e.CountProcesses()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShutdownIdempotent(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, StateShutDown, e.State())
}

func TestShutdownWaitsForInFlightIngest(t *testing.T) {
	e := testEngine(t)
	out := filepath.Join(t.TempDir(), "dbg.trace")
	_, err := e.CreateViewByName("DBGView", view.Params{"output": out})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	lines := strings.Split(forkChainTrace(t), "\n")
	pr, pw := io.Pipe()

	ingestDone := make(chan error, 1)
	go func() {
		_, err := e.IngestStream(context.Background(), pr, cadets.NewDecoder)
		ingestDone <- err
	}()

	// Feed the fork records and wait until they have been applied, so the
	// stream is provably mid-flight.
	for _, line := range lines[:3] {
		_, err := io.WriteString(pw, line+"\n")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		n, err := e.CountProcesses()
		return err == nil && n == 3
	}, 5*time.Second, 5*time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- e.Shutdown() }()
	require.Eventually(t, func() bool {
		return e.State() == StateDraining
	}, 5*time.Second, 5*time.Millisecond)

	// The exec records arrive while shutdown is already pending.
	for _, line := range lines[3:] {
		_, err := io.WriteString(pw, line+"\n")
		require.NoError(t, err)
	}
	require.NoError(t, pw.Close())

	require.NoError(t, <-ingestDone)
	require.NoError(t, <-shutdownDone)
	assert.Equal(t, StateShutDown, e.State())

	// The stream tail reached the view before the drain barrier: all six
	// edges (2 fork, 4 exec) were flushed.
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var edges int
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.Contains(line, " edge ") {
			edges++
		}
	}
	assert.Equal(t, 6, edges)
}

func TestCountProcessesAfterForkFixture(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Start(context.Background()))
	ingestTrace(t, e, forkChainTrace(t))

	n, err := e.CountProcesses()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCreateViewByName(t *testing.T) {
	e := testEngine(t)

	t.Run("unknown name", func(t *testing.T) {
		_, err := e.CreateViewByName("NoSuchView", nil)
		assert.True(t, errors.Is(err, errors.ErrNoViewWithName))
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := e.CreateViewByName("ProcTreeView", view.Params{"colour": "red"})
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("success returns instance id", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "tree.json")
		id, err := e.CreateViewByName("ProcTreeView", view.Params{"output": out})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, 0)

		insts, err := e.ListViewInstances()
		require.NoError(t, err)
		require.Len(t, insts, 1)
		assert.Equal(t, "ProcTreeView", insts[0].Descriptor().Name)
	})
}

func TestListViewTypesSorted(t *testing.T) {
	e := testEngine(t)
	descs, err := e.ListViewTypes()
	require.NoError(t, err)

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"CSVView", "DBGView", "ProcTreeView"}, names)
}

func TestSuppressDefaultViews(t *testing.T) {
	c := testConfig()
	c.SuppressDefaultViews = true
	e, err := New(c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer e.Cleanup()

	descs, err := e.ListViewTypes()
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestEndToEndProcTree(t *testing.T) {
	t.Run("activated before ingestion renders the chain", func(t *testing.T) {
		e := testEngine(t)
		out := filepath.Join(t.TempDir(), "tree.json")

		_, err := e.CreateViewByName("ProcTreeView", view.Params{"output": out, "meta_key": "exec"})
		require.NoError(t, err)
		require.NoError(t, e.Start(context.Background()))
		ingestTrace(t, e, forkChainTrace(t))
		require.NoError(t, e.Shutdown())

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		content := strings.TrimSpace(string(raw))
		lines := strings.Split(content, "\n")

		var nodes, edges int
		for _, line := range lines {
			switch {
			case strings.Contains(line, `"type":"Node"`):
				nodes++
			case strings.Contains(line, `"type":"Edge"`):
				edges++
			}
		}
		assert.Equal(t, 3, nodes)
		assert.Equal(t, 2, edges)
		assert.Contains(t, content, `"cmd":"init"`)
		assert.Contains(t, content, `"cmd":"ls"`)
	})

	t.Run("activated after ingestion renders an empty tree", func(t *testing.T) {
		e := testEngine(t)
		out := filepath.Join(t.TempDir(), "tree.json")

		require.NoError(t, e.Start(context.Background()))
		ingestTrace(t, e, forkChainTrace(t))
		_, err := e.CreateViewByName("ProcTreeView", view.Params{"output": out})
		require.NoError(t, err)
		require.NoError(t, e.Shutdown())

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Empty(t, strings.TrimSpace(string(raw)))
	})
}

func TestPersistenceMirrorsGraph(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prov.db")
	c := testConfig()
	c.Persistence = &cfg.Persistence{Target: dbPath, Namespace: "e2e"}

	e, err := New(c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer e.Cleanup()

	require.NoError(t, e.Start(context.Background()))
	ingestTrace(t, e, forkChainTrace(t))
	require.NoError(t, e.Shutdown())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var entities, edges int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM entities WHERE namespace = 'e2e'").Scan(&entities))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM edges WHERE namespace = 'e2e'").Scan(&edges))
	assert.Equal(t, 7, entities) // 3 processes, 2 binaries, 2 loaders
	assert.Equal(t, 6, edges)    // 2 fork, 4 exec
}

func TestStrictModeFailsOnUnreachableBackend(t *testing.T) {
	c := testConfig()
	c.StrictMode = true
	c.Persistence = &cfg.Persistence{Target: filepath.Join(t.TempDir(), "missing", "sub", "prov.db")}

	e, err := New(c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer e.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistenceUnavailable))
	assert.Equal(t, StateInitialized, e.State())
}
