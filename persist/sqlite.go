package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/sym"
)

// SQLiteAdapter persists the provenance graph into a SQLite database.
// Entities are upserted so attribute merges supersede earlier rows; edges
// are append-only, mirroring the in-memory store's semantics.
type SQLiteAdapter struct {
	path      string
	namespace string
	log       *zap.SugaredLogger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteAdapter creates an adapter for the database at path. namespace
// isolates this pipeline's rows within a shared database file.
func NewSQLiteAdapter(path, namespace string, log *zap.SugaredLogger) *SQLiteAdapter {
	return &SQLiteAdapter{
		path:      path,
		namespace: namespace,
		log:       log.Named("persist.sqlite"),
	}
}

// Connect opens the database with WAL mode and foreign keys enabled, and
// applies pending schema migrations. Safe to call when already connected.
func (a *SQLiteAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", a.path)
	if err != nil {
		return errors.Wrapf(errors.ErrPersistenceUnavailable, "opening %s: %v", a.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrapf(errors.ErrPersistenceUnavailable, "pinging %s: %v", a.path, err)
	}

	// WAL mode allows concurrent reads during writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return errors.Wrapf(errors.ErrPersistenceUnavailable, "%s: %v", pragma, err)
		}
	}

	if err := Migrate(db, a.log); err != nil {
		db.Close()
		return err
	}

	a.db = db
	a.log.Infow("Persistence backend connected",
		"symbol", sym.DB,
		"path", a.path,
		"namespace", a.namespace,
	)
	return nil
}

// WriteEntity upserts one entity row. Later writes for the same identity
// replace the attribute set, matching last-write-wins merge semantics.
func (a *SQLiteAdapter) WriteEntity(ent graph.Entity) error {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return errors.Wrap(errors.ErrInvalidState, "adapter not connected")
	}

	attrs, err := json.Marshal(ent.Attrs)
	if err != nil {
		return errors.Wrapf(err, "encoding attrs for entity %d", ent.ID)
	}

	_, err = db.Exec(`
		INSERT INTO entities (namespace, id, kind, key, attrs, first_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET attrs = excluded.attrs`,
		a.namespace, int64(ent.ID), string(ent.Kind), ent.Key.String(), string(attrs), ent.FirstSeen,
	)
	if err != nil {
		return errors.Wrapf(err, "writing entity %d", ent.ID)
	}
	return nil
}

// WriteEdge appends one edge row.
func (a *SQLiteAdapter) WriteEdge(edge graph.Edge) error {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return errors.Wrap(errors.ErrInvalidState, "adapter not connected")
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO edges (namespace, seq, src, dst, label, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.namespace, edge.Seq, int64(edge.Src), int64(edge.Dst), edge.Label, edge.At,
	)
	if err != nil {
		return errors.Wrapf(err, "writing edge %d", edge.Seq)
	}
	return nil
}

// Close releases the database connection. Idempotent.
func (a *SQLiteAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return errors.Wrap(err, "closing database")
	}
	return nil
}

var _ Adapter = (*SQLiteAdapter)(nil)
