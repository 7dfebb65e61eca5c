package graphsync

import (
	"context"
	"testing"

	"fundgraph/backend/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDiff_Unchanged(t *testing.T) {
	snap := fixtureStore(t).Snapshot()
	assert.True(t, ComputeDiff(snap, snap.Dataset()).IsEmpty())
}

func TestComputeDiff_Changes(t *testing.T) {
	snap := fixtureStore(t).Snapshot()
	remote := &graph.Dataset{
		Entities: []graph.Entity{
			graph.Sector{ID: "sector-agritech", Name: "AgriTech", Aliases: []string{"agriculture"}},
			graph.Location{ID: "loc-tn", Name: "Tamil Nadu", Level: graph.LevelState},
			graph.Investor{ID: "inv-kongu", Name: "Kongu Angels", Sectors: []string{"AgriTech"}},
			graph.Startup{ID: "startup-x", Sector: "AgriTech", Stage: "MVP"},
		},
		Edges: []graph.Edge{
			{Type: graph.EdgeInvestsIn, From: "inv-kongu", To: "sector-agritech", Weight: 0.5},
			{Type: graph.EdgeEligibleFor, From: "startup-x", To: "scheme-tanseed"},
		},
	}

	diff := ComputeDiff(snap, remote)

	require.Len(t, diff.UpsertEntities, 1)
	assert.Equal(t, "sector-agritech", diff.UpsertEntities[0].EntityID())
	assert.Equal(t, []string{"scheme-tanseed"}, diff.RemoveEntities)
	require.Len(t, diff.UpsertEdges, 1)
	assert.Equal(t, 0.5, diff.UpsertEdges[0].Weight)
	// OFFERS_SCHEME leaves with the scheme; only OPERATES_IN is listed
	assert.Equal(t, []graph.EdgeKey{{Type: graph.EdgeOperatesIn, From: "inv-kongu", To: "loc-tn"}}, diff.RemoveEdges)
}

func TestComputeDiff_ApplyTwice(t *testing.T) {
	store := fixtureStore(t)
	remote := store.Snapshot().Dataset()
	remote.Entities = append(remote.Entities, graph.Stage{ID: "stage-idea", Name: "Idea"})

	diff := ComputeDiff(store.Snapshot(), remote)
	_, err := store.Apply(context.Background(), diff)
	require.NoError(t, err)
	once := store.Snapshot().Dataset()

	res, err := store.Apply(context.Background(), diff)
	require.NoError(t, err)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, once, store.Snapshot().Dataset())
	assert.True(t, ComputeDiff(store.Snapshot(), remote).IsEmpty())
}
