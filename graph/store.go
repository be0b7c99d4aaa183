package graph

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sysprov/pvm/sym"
)

type edgeKey struct {
	src   ID
	dst   ID
	label string
}

// Store is the in-memory provenance graph. A single writer (the ingestion
// reader) applies events through Mutate; any number of readers may observe
// concurrently through the query methods.
type Store struct {
	mu sync.RWMutex

	entities map[ID]*Entity
	byKey    map[uuid.UUID]ID
	edges    []Edge

	// edgeCache deduplicates influence edges per (src, dst, label). Audit
	// streams repeat read/write pairs heavily; only the first observation
	// of a relation adds an edge.
	edgeCache map[edgeKey]struct{}

	kindCounts map[Kind]int

	nextID  ID
	nextSeq uint64
	edgeSeq uint64

	log *zap.SugaredLogger
}

// NewStore creates an empty provenance graph store.
func NewStore(log *zap.SugaredLogger) *Store {
	return &Store{
		entities:   make(map[ID]*Entity),
		byKey:      make(map[uuid.UUID]ID),
		edgeCache:  make(map[edgeKey]struct{}),
		kindCounts: make(map[Kind]int),
		log:        log.Named("graph"),
	}
}

// Mutation is the handle passed to a Mutate callback. All methods operate
// under the store's write lock; the callback must not retain the handle.
type Mutation struct {
	s     *Store
	at    time.Time
	delta Delta
}

// Mutate applies one event to the graph as an atomic unit and returns the
// resulting delta. at is the event's own timestamp, carried onto edges.
func (s *Store) Mutate(at time.Time, fn func(*Mutation)) Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Mutation{s: s, at: at, delta: Delta{Seq: s.nextSeq}}
	s.nextSeq++
	fn(m)
	return m.delta
}

// Declare resolves an entity by its trace key, creating it when unseen.
// Returns the entity's stable ID and whether it was created by this call.
func (m *Mutation) Declare(kind Kind, key uuid.UUID, attrs map[string]string) (ID, bool) {
	if id, ok := m.s.byKey[key]; ok {
		if len(attrs) > 0 {
			m.Merge(id, attrs)
		}
		return id, false
	}

	id := m.s.nextID
	m.s.nextID++

	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	ent := &Entity{ID: id, Kind: kind, Key: key, Attrs: copied, FirstSeen: m.at}
	m.s.entities[id] = ent
	m.s.byKey[key] = id
	m.s.kindCounts[kind]++

	m.delta.Created = append(m.delta.Created, ent.clone())
	return id, true
}

// Merge applies a last-write-wins attribute update to an existing entity.
// Unknown IDs are ignored; the ingestion mapping only merges into entities
// it declared earlier in the same or a prior event.
func (m *Mutation) Merge(id ID, attrs map[string]string) {
	ent, ok := m.s.entities[id]
	if !ok || len(attrs) == 0 {
		return
	}
	changed := false
	for k, v := range attrs {
		if ent.Attrs[k] != v {
			ent.Attrs[k] = v
			changed = true
		}
	}
	if changed {
		m.delta.Updated = append(m.delta.Updated, ent.clone())
	}
}

// Release unbinds a trace key from its entity. The entity and its ID remain
// in the graph; a later Declare with the same key creates a fresh entity.
// Used when the trace reuses an identifier for a new system object.
func (m *Mutation) Release(key uuid.UUID) {
	delete(m.s.byKey, key)
}

// Connect appends a directed edge. Repeat observations of the same
// (src, dst, label) relation are deduplicated.
func (m *Mutation) Connect(src, dst ID, label string) {
	k := edgeKey{src: src, dst: dst, label: label}
	if _, seen := m.s.edgeCache[k]; seen {
		return
	}
	m.s.edgeCache[k] = struct{}{}

	edge := Edge{Seq: m.s.edgeSeq, Src: src, Dst: dst, Label: label, At: m.at}
	m.s.edgeSeq++
	m.s.edges = append(m.s.edges, edge)
	m.delta.Edges = append(m.delta.Edges, edge)
}

// Lookup returns the entity currently bound to a trace key.
func (m *Mutation) Lookup(key uuid.UUID) (ID, bool) {
	id, ok := m.s.byKey[key]
	return id, ok
}

// CountProcesses returns the number of process entities in the graph.
func (s *Store) CountProcesses() int {
	return s.CountKind(KindProcess)
}

// CountKind returns the number of entities of the given kind.
func (s *Store) CountKind(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kindCounts[kind]
}

// EntityCount returns the total number of entities.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// EdgeCount returns the total number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Entity returns a copy of the entity with the given ID.
func (s *Store) Entity(id ID) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return ent.clone(), true
}

// EntityByKey returns a copy of the entity currently bound to a trace key.
func (s *Store) EntityByKey(key uuid.UUID) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return Entity{}, false
	}
	return s.entities[id].clone(), true
}

// Edges returns a copy of all edges in append order.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// Entities returns copies of all entities. Order is unspecified.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		out = append(out, ent.clone())
	}
	return out
}

// Close releases the store's internal state. The store must not be used
// afterward.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debugw("Closing graph store",
		"symbol", sym.Graph,
		"entities", len(s.entities),
		"edges", len(s.edges),
	)
	s.entities = nil
	s.byKey = nil
	s.edges = nil
	s.edgeCache = nil
	s.kindCounts = nil
}
