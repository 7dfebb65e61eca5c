package graph

import (
	"cmp"
	"slices"
	"strings"

	apperrors "fundgraph/backend/pkg/errors"
)

// Snapshot is an immutable view of the graph. Readers may hold a snapshot
// for as long as they like; later commits never change it.
type Snapshot struct {
	version   uint64
	entities  map[string]Entity
	out       map[string][]Edge
	in        map[string][]Edge
	edgeCount int
}

func emptySnapshot(version uint64) *Snapshot {
	return &Snapshot{
		version:  version,
		entities: map[string]Entity{},
		out:      map[string][]Edge{},
		in:       map[string][]Edge{},
	}
}

// Version increases by one with every commit that changed the graph
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of entities
func (s *Snapshot) Len() int {
	return len(s.entities)
}

// EdgeCount returns the number of edges
func (s *Snapshot) EdgeCount() int {
	return s.edgeCount
}

// Get returns the entity with the given id
func (s *Snapshot) Get(id string) (Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// GetEntity returns the entity with the given id or a NotFound error
func (s *Snapshot) GetEntity(id string) (Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, apperrors.NewNotFound(id)
	}
	return e, nil
}

// Entities returns the entities of a kind ordered by id. An empty kind
// returns every entity.
func (s *Snapshot) Entities(kind Kind) []Entity {
	result := make([]Entity, 0)
	for _, e := range s.entities {
		if kind == "" || e.EntityKind() == kind {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b Entity) int {
		return strings.Compare(a.EntityID(), b.EntityID())
	})
	return result
}

// Outgoing returns the edges leaving id, optionally filtered by type
func (s *Snapshot) Outgoing(id string, edgeType EdgeType) []Edge {
	return filterEdges(s.out[id], edgeType)
}

// Incoming returns the edges entering id, optionally filtered by type
func (s *Snapshot) Incoming(id string, edgeType EdgeType) []Edge {
	return filterEdges(s.in[id], edgeType)
}

// Edges returns every edge ordered by type, source and target
func (s *Snapshot) Edges() []Edge {
	result := make([]Edge, 0, s.edgeCount)
	for _, edges := range s.out {
		result = append(result, edges...)
	}
	slices.SortFunc(result, compareEdges)
	return result
}

// Neighbors walks edges in both directions from id up to depth hops and
// returns every entity reached, once, at its shallowest depth. Results are
// ordered by depth then id.
func (s *Snapshot) Neighbors(id string, edgeType EdgeType, depth int) ([]Neighbor, error) {
	if _, ok := s.entities[id]; !ok {
		return nil, apperrors.NewNotFound(id)
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var result []Neighbor

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, current := range frontier {
			for _, edge := range s.adjacent(current, edgeType) {
				other := edge.To
				if other == current {
					other = edge.From
				}
				if visited[other] {
					continue
				}
				target, ok := s.entities[other]
				if !ok {
					continue
				}
				visited[other] = true
				next = append(next, other)
				result = append(result, Neighbor{Entity: target, Edge: edge, Depth: d})
			}
		}
		slices.Sort(next)
		frontier = next
	}

	slices.SortStableFunc(result, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
			return c
		}
		return strings.Compare(a.Entity.EntityID(), b.Entity.EntityID())
	})
	return result, nil
}

// Adjacent returns the edges touching id in either direction, ordered
// deterministically.
func (s *Snapshot) Adjacent(id string, edgeType EdgeType) []Edge {
	return s.adjacent(id, edgeType)
}

func (s *Snapshot) adjacent(id string, edgeType EdgeType) []Edge {
	edges := make([]Edge, 0, len(s.out[id])+len(s.in[id]))
	edges = append(edges, filterEdges(s.out[id], edgeType)...)
	for _, e := range filterEdges(s.in[id], edgeType) {
		if e.From == e.To {
			continue // self loops already listed as outgoing
		}
		edges = append(edges, e)
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// Ancestors follows outgoing edges of one type transitively and returns the
// ids reached, nearest first. Cycles are tolerated.
func (s *Snapshot) Ancestors(id string, edgeType EdgeType) []string {
	visited := map[string]bool{id: true}
	var result []string
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []string
		for _, current := range frontier {
			for _, e := range s.Outgoing(current, edgeType) {
				if visited[e.To] {
					continue
				}
				visited[e.To] = true
				result = append(result, e.To)
				next = append(next, e.To)
			}
		}
		frontier = next
	}
	return result
}

// FindByName resolves a name or alias, case-insensitively, to an entity of
// the given kind. An id is accepted as well.
func (s *Snapshot) FindByName(name string, kind Kind) (Entity, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if e, ok := s.entities[name]; ok && (kind == "" || e.EntityKind() == kind) {
		return e, true
	}
	for _, e := range s.Entities(kind) {
		for _, n := range Names(e) {
			if strings.EqualFold(n, name) {
				return e, true
			}
		}
	}
	return nil, false
}

// Dataset copies the snapshot into a flat entity and edge set
func (s *Snapshot) Dataset() *Dataset {
	return &Dataset{
		Entities: s.Entities(""),
		Edges:    s.Edges(),
	}
}

// Stats counts entities by kind and edges by type
func (s *Snapshot) Stats() Stats {
	stats := Stats{
		Version:        s.version,
		TotalEntities:  len(s.entities),
		TotalEdges:     s.edgeCount,
		EntitiesByKind: map[Kind]int{},
		EdgesByType:    map[EdgeType]int{},
	}
	for _, e := range s.entities {
		stats.EntitiesByKind[e.EntityKind()]++
	}
	for _, edges := range s.out {
		for _, e := range edges {
			stats.EdgesByType[e.Type]++
		}
	}
	return stats
}

func filterEdges(edges []Edge, edgeType EdgeType) []Edge {
	if edgeType == "" {
		return slices.Clone(edges)
	}
	result := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Type == edgeType {
			result = append(result, e)
		}
	}
	return result
}

func compareEdges(a, b Edge) int {
	if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
		return c
	}
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	return strings.Compare(a.To, b.To)
}
