package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) (*graph.Store, *Catalog) {
	t.Helper()
	store := graph.NewStore()
	c := New(store)
	summary, err := c.LoadFile(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, summary.Rejected, "seed errors: %v", summary.Errors)
	return store, c
}

func TestLoad_DefaultSeed(t *testing.T) {
	store, c := loadDefault(t)

	stats := store.Stats()
	assert.Equal(t, 44, stats.TotalEntities)
	assert.Equal(t, 8, stats.EntitiesByKind[graph.KindInvestor])
	assert.Equal(t, 6, stats.EntitiesByKind[graph.KindScheme])
	assert.Equal(t, 5, stats.EntitiesByKind[graph.KindOpportunity])
	assert.Zero(t, stats.EntitiesByKind[graph.KindStartup])
	assert.Positive(t, stats.EdgesByType[graph.EdgeOperatesIn])
	assert.Positive(t, stats.EdgesByType[graph.EdgeOffersScheme])

	profile, ok := c.DefaultProfile()
	require.True(t, ok)
	assert.Equal(t, "startup-demo", profile.ID)
	assert.Equal(t, "AgriTech", profile.Sector)

	_, ok = c.Profile("startup-demo")
	assert.True(t, ok)
	assert.Len(t, c.Profiles(), 1)
}

func TestLoad_RejectsMalformedRecordsIndividually(t *testing.T) {
	seed := `[
		{"id": "sector-agritech", "type": "sector", "attributes": {"name": "AgriTech"}},
		{"id": "", "type": "sector", "attributes": {"name": "NoID"}},
		{"id": "no-type", "attributes": {"name": "NoType"}},
		{"id": "mentor-1", "type": "mentor", "attributes": {"name": "Unknown"}},
		{"id": "inv-bad", "type": "investor", "attributes": {"name": 42}},
		{"id": "inv-ghost", "type": "investor", "attributes": {"name": "Ghost"},
		 "edges": [{"type": "INVESTS_IN", "targetId": "sector-spacetech"}]},
		{"id": "loc-city", "type": "location", "attributes": {"name": "City", "level": "city"},
		 "edges": [{"type": "LOCATED_IN", "targetId": "loc-bad-state"}]},
		{"id": "loc-bad-state", "type": "location", "attributes": {"name": "State", "level": "state"},
		 "edges": [{"type": "LOCATED_IN", "targetId": "sector-agritech"}]},
		{"id": "scheme-bad-rule", "type": "scheme", "attributes": {"name": "Bad", "eligibility": {"rule": "startup.team_size >"}}},
		{"id": "sector-agritech", "type": "sector", "attributes": {"name": "Duplicate"}},
		{"id": "inv-good", "type": "investor", "attributes": {"name": "Good", "sectors": ["AgriTech"]},
		 "edges": [{"type": "INVESTS_IN", "targetId": "sector-agritech", "weight": 0.5}]}
	]`

	store := graph.NewStore()
	summary, err := New(store).LoadBytes(context.Background(), []byte(seed))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Accepted)
	assert.Equal(t, 9, summary.Rejected)
	assert.Len(t, summary.Errors, 9)

	var dangling int
	for _, err := range summary.Errors {
		if _, ok := err.(*apperrors.ErrDanglingReference); ok {
			dangling++
		}
	}
	// inv-ghost directly, loc-city after loc-bad-state was rejected
	assert.Equal(t, 2, dangling)

	snap := store.Snapshot()
	assert.Equal(t, 2, snap.Len())
	e, err := snap.GetEntity("sector-agritech")
	require.NoError(t, err)
	assert.Equal(t, "AgriTech", e.DisplayName())

	edges := snap.Outgoing("inv-good", graph.EdgeInvestsIn)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.5, edges[0].Weight)
}

func TestLoad_InvalidJSON(t *testing.T) {
	_, err := New(graph.NewStore()).LoadBytes(context.Background(), []byte(`{"not": "an array"}`))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestLoad_EdgesToExistingEntities(t *testing.T) {
	store, _ := loadDefault(t)
	extra := `[{"id": "inv-new", "type": "investor", "attributes": {"name": "New Fund"},
		"edges": [{"type": "INVESTS_IN", "targetId": "sector-fintech"}]}]`

	summary, err := New(store).LoadBytes(context.Background(), []byte(extra))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Len(t, store.Snapshot().Incoming("sector-fintech", graph.EdgeInvestsIn), 4)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "stage-idea", "type": "stage", "attributes": {"name": "Idea"}}]`), 0o600))

	store := graph.NewStore()
	summary, err := New(store).LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)

	_, err = New(store).LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_ConcurrentWriterFails(t *testing.T) {
	store := graph.NewStore()
	batch, err := store.Begin()
	require.NoError(t, err)
	defer batch.Discard()

	_, err = New(store).LoadFile(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrConcurrentWrite)
}

func TestOpportunities(t *testing.T) {
	store, _ := loadDefault(t)
	snap := store.Snapshot()

	agri := Opportunities(snap, OpportunityFilter{Sector: "agritech"})
	assert.Equal(t, []string{"opp-agri-hackathon", "opp-innovation-week"}, opportunityIDs(agri))

	grants := Opportunities(snap, OpportunityFilter{Type: "grant"})
	assert.Equal(t, []string{"opp-climate-grant", "opp-innovation-week"}, opportunityIDs(grants))

	all := Opportunities(snap, OpportunityFilter{Sector: "All", Type: "all"})
	assert.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Deadline.Before(all[i-1].Deadline), "sorted by deadline")
	}

	byAlias := Opportunities(snap, OpportunityFilter{Sector: "healthcare"})
	assert.Equal(t, []string{"opp-digital-health", "opp-innovation-week"}, opportunityIDs(byAlias))
}

func TestSchemesFor(t *testing.T) {
	store, _ := loadDefault(t)
	snap := store.Snapshot()

	tn := SchemesFor(snap, "TN")
	ids := make([]string, 0, len(tn))
	for _, s := range tn {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"scheme-sisfs", "scheme-cgss", "scheme-rkvy-raftaar", "scheme-tanseed"}, ids)
	assert.Len(t, SchemesFor(snap, ""), 6)
}

func opportunityIDs(opps []graph.Opportunity) []string {
	ids := make([]string, 0, len(opps))
	for _, o := range opps {
		ids = append(ids, o.ID)
	}
	return ids
}
