package graphsync

import (
	"reflect"

	"fundgraph/backend/internal/graph"
)

// ComputeDiff returns the changes that turn local into remote. Entities are
// matched by id and edges by (type, from, to); unchanged items are left out,
// so applying the result twice is the same as applying it once.
func ComputeDiff(local *graph.Snapshot, remote *graph.Dataset) graph.Diff {
	var diff graph.Diff

	remoteIDs := make(map[string]bool, len(remote.Entities))
	for _, e := range remote.Entities {
		if e.EntityKind() == graph.KindStartup {
			continue
		}
		remoteIDs[e.EntityID()] = true
		if existing, ok := local.Get(e.EntityID()); ok && reflect.DeepEqual(existing, e) {
			continue
		}
		diff.UpsertEntities = append(diff.UpsertEntities, e)
	}
	for _, e := range local.Entities("") {
		if !remoteIDs[e.EntityID()] {
			diff.RemoveEntities = append(diff.RemoveEntities, e.EntityID())
		}
	}

	remoteEdges := make(map[graph.EdgeKey]bool, len(remote.Edges))
	localEdges := map[graph.EdgeKey]graph.Edge{}
	ordered := local.Edges()
	for _, e := range ordered {
		localEdges[e.Key()] = e
	}
	for _, e := range remote.Edges {
		if e.Type == graph.EdgeEligibleFor {
			continue
		}
		remoteEdges[e.Key()] = true
		if existing, ok := localEdges[e.Key()]; ok && existing == e {
			continue
		}
		diff.UpsertEdges = append(diff.UpsertEdges, e)
	}
	for _, e := range ordered {
		key := e.Key()
		// Edges of removed entities go with them
		if !remoteEdges[key] && remoteIDs[key.From] && remoteIDs[key.To] {
			diff.RemoveEdges = append(diff.RemoveEdges, key)
		}
	}
	return diff
}
