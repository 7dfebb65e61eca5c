package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"go.uber.org/zap"
)

var errBatchFinished = apperrors.NewBaseError(apperrors.ErrorTypeGraph, "batch already committed or discarded", nil)

// Store is the in-memory knowledge graph. Reads load the current snapshot
// pointer and never block; writes go through a single Batch at a time and
// publish a new snapshot on commit.
type Store struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex

	swapMu sync.Mutex
	closed bool

	logger *zap.Logger
}

// NewStore creates an empty graph store
func NewStore() *Store {
	s := &Store{logger: logger.Named("graph")}
	s.current.Store(emptySnapshot(0))
	return s
}

// Snapshot returns the current immutable view of the graph
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// GetEntity returns an entity by id from the current snapshot
func (s *Store) GetEntity(id string) (Entity, error) {
	return s.Snapshot().GetEntity(id)
}

// Neighbors walks the current snapshot, see Snapshot.Neighbors
func (s *Store) Neighbors(id string, edgeType EdgeType, depth int) ([]Neighbor, error) {
	return s.Snapshot().Neighbors(id, edgeType, depth)
}

// Stats counts the current snapshot
func (s *Store) Stats() Stats {
	return s.Snapshot().Stats()
}

// Begin opens a write batch over a working copy of the current snapshot.
// Only one batch may be open; a second caller gets ErrConcurrentWrite.
func (s *Store) Begin() (*Batch, error) {
	if s.isClosed() {
		return nil, apperrors.ErrStoreClosed
	}
	if !s.writeMu.TryLock() {
		return nil, apperrors.ErrConcurrentWrite
	}
	base := s.current.Load()
	return &Batch{
		store:     s,
		base:      base,
		entities:  maps.Clone(base.entities),
		out:       maps.Clone(base.out),
		in:        maps.Clone(base.in),
		edgeCount: base.edgeCount,
	}, nil
}

// UpsertEntity inserts or replaces one entity in its own batch
func (s *Store) UpsertEntity(e Entity) error {
	return s.single(func(b *Batch) error { return b.UpsertEntity(e) })
}

// UpsertEdge inserts or replaces one edge in its own batch
func (s *Store) UpsertEdge(edge Edge) error {
	return s.single(func(b *Batch) error { return b.UpsertEdge(edge) })
}

func (s *Store) single(op func(*Batch) error) error {
	b, err := s.Begin()
	if err != nil {
		return err
	}
	if err := op(b); err != nil {
		b.Discard()
		return err
	}
	_, err = b.Commit()
	return err
}

// Apply runs a diff in one batch: edge removals, entity removals, entity
// upserts, then edge upserts. Items that fail are skipped and reported; the
// rest commit together. A cancelled context discards the whole batch.
// Removing something already absent counts as applied.
func (s *Store) Apply(ctx context.Context, diff Diff) (ApplyResult, error) {
	b, err := s.Begin()
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	record := func(err error) {
		if err == nil {
			result.Applied++
			return
		}
		result.Skipped++
		result.Errors = append(result.Errors, err)
	}
	cancelled := func() error {
		if err := ctx.Err(); err != nil {
			b.Discard()
			return apperrors.NewContextCancelled("graph apply", err)
		}
		return nil
	}

	for _, key := range diff.RemoveEdges {
		if err := cancelled(); err != nil {
			return ApplyResult{}, err
		}
		err := b.RemoveEdge(key)
		if isNotFound(err) {
			err = nil
		}
		record(err)
	}
	for _, id := range diff.RemoveEntities {
		if err := cancelled(); err != nil {
			return ApplyResult{}, err
		}
		err := b.RemoveEntity(id)
		if isNotFound(err) {
			err = nil
		}
		record(err)
	}
	for _, e := range diff.UpsertEntities {
		if err := cancelled(); err != nil {
			return ApplyResult{}, err
		}
		record(b.UpsertEntity(e))
	}
	for _, edge := range diff.UpsertEdges {
		if err := cancelled(); err != nil {
			return ApplyResult{}, err
		}
		record(b.UpsertEdge(edge))
	}
	if err := cancelled(); err != nil {
		return ApplyResult{}, err
	}

	version, err := b.Commit()
	if err != nil {
		return ApplyResult{}, err
	}
	result.Version = version
	return result, nil
}

// Close releases the graph. Later reads see an empty snapshot and writes fail.
func (s *Store) Close() error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.current.Store(emptySnapshot(s.current.Load().version + 1))
	s.logger.Info("Graph store closed")
	return nil
}

func (s *Store) isClosed() bool {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	return s.closed
}

// publish swaps in a committed snapshot unless the store was closed meanwhile
func (s *Store) publish(snap *Snapshot) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	if s.closed {
		return apperrors.ErrStoreClosed
	}
	s.current.Store(snap)
	return nil
}

func isNotFound(err error) bool {
	_, ok := err.(*apperrors.ErrNotFound)
	return ok
}

// ============================================================================
// Batch
// ============================================================================

// Batch is a private working copy of the graph. Maps are cloned shallowly on
// Begin and every touched adjacency list is rebuilt, so the published
// snapshot is never modified in place.
type Batch struct {
	store     *Store
	base      *Snapshot
	entities  map[string]Entity
	out       map[string][]Edge
	in        map[string][]Edge
	edgeCount int
	changes   int
	finished  bool
}

// UpsertEntity inserts an entity or replaces its attributes. Existing edges
// are kept. Startups and kind changes are rejected.
func (b *Batch) UpsertEntity(e Entity) error {
	if b.finished {
		return errBatchFinished
	}
	if e == nil {
		return apperrors.NewValidation("", "entity", "nil")
	}
	if e.EntityKind() == KindStartup {
		return apperrors.NewValidation(e.EntityID(), "type", "startup profiles are session scoped and not stored")
	}
	if err := Validate(e); err != nil {
		return err
	}
	id := e.EntityID()
	if existing, ok := b.entities[id]; ok && existing.EntityKind() != e.EntityKind() {
		return apperrors.NewValidation(id, "type",
			fmt.Sprintf("id already used by a %s, cannot become a %s", existing.EntityKind(), e.EntityKind()))
	}
	b.entities[id] = e.clone()
	b.changes++
	return nil
}

// RemoveEntity deletes an entity together with every edge touching it
func (b *Batch) RemoveEntity(id string) error {
	if b.finished {
		return errBatchFinished
	}
	if _, ok := b.entities[id]; !ok {
		return apperrors.NewNotFound(id)
	}

	removed := map[EdgeKey]bool{}
	for _, e := range b.out[id] {
		removed[e.Key()] = true
		if e.To != id {
			b.in[e.To] = withoutEdge(b.in[e.To], e.Key())
		}
	}
	for _, e := range b.in[id] {
		removed[e.Key()] = true
		if e.From != id {
			b.out[e.From] = withoutEdge(b.out[e.From], e.Key())
		}
	}
	delete(b.out, id)
	delete(b.in, id)
	delete(b.entities, id)
	b.edgeCount -= len(removed)
	b.changes++
	return nil
}

// UpsertEdge inserts an edge or replaces its weight. Both endpoints must
// exist and match the kinds the edge type expects.
func (b *Batch) UpsertEdge(edge Edge) error {
	if b.finished {
		return errBatchFinished
	}
	if edge.Type == EdgeEligibleFor {
		return apperrors.NewValidation(edge.From, "edge.type", "ELIGIBLE_FOR is computed per request and not stored")
	}
	from, ok := b.entities[edge.From]
	if !ok {
		return apperrors.NewDanglingReference(string(edge.Type), edge.From, edge.To, edge.From)
	}
	to, ok := b.entities[edge.To]
	if !ok {
		return apperrors.NewDanglingReference(string(edge.Type), edge.From, edge.To, edge.To)
	}
	if err := ValidateEdge(edge, from.EntityKind(), to.EntityKind()); err != nil {
		return err
	}

	key := edge.Key()
	existed := slices.ContainsFunc(b.out[edge.From], func(e Edge) bool { return e.Key() == key })
	b.out[edge.From] = append(withoutEdge(b.out[edge.From], key), edge)
	b.in[edge.To] = append(withoutEdge(b.in[edge.To], key), edge)
	if !existed {
		b.edgeCount++
	}
	b.changes++
	return nil
}

// RemoveEdge deletes one edge
func (b *Batch) RemoveEdge(key EdgeKey) error {
	if b.finished {
		return errBatchFinished
	}
	if !slices.ContainsFunc(b.out[key.From], func(e Edge) bool { return e.Key() == key }) {
		return apperrors.NewNotFound(fmt.Sprintf("%s %s->%s", key.Type, key.From, key.To))
	}
	b.out[key.From] = withoutEdge(b.out[key.From], key)
	b.in[key.To] = withoutEdge(b.in[key.To], key)
	b.edgeCount--
	b.changes++
	return nil
}

// Commit publishes the working copy with a single atomic pointer swap and
// returns the new version. A batch without changes publishes nothing.
func (b *Batch) Commit() (uint64, error) {
	if b.finished {
		return 0, errBatchFinished
	}
	b.finished = true
	defer b.store.writeMu.Unlock()

	if b.changes == 0 {
		return b.base.version, nil
	}
	snap := &Snapshot{
		version:   b.base.version + 1,
		entities:  b.entities,
		out:       b.out,
		in:        b.in,
		edgeCount: b.edgeCount,
	}
	if err := b.store.publish(snap); err != nil {
		return 0, err
	}
	b.store.logger.Debug("Graph snapshot committed",
		zap.Uint64("version", snap.version),
		zap.Int("changes", b.changes),
		zap.Int("entities", len(snap.entities)),
		zap.Int("edges", snap.edgeCount),
	)
	return snap.version, nil
}

// Discard drops the working copy. Calling it after Commit is a no-op.
func (b *Batch) Discard() {
	if b.finished {
		return
	}
	b.finished = true
	b.store.writeMu.Unlock()
}

// withoutEdge returns a new slice without key; the input is never modified
func withoutEdge(edges []Edge, key EdgeKey) []Edge {
	result := make([]Edge, 0, len(edges)+1)
	for _, e := range edges {
		if e.Key() != key {
			result = append(result, e)
		}
	}
	return result
}
