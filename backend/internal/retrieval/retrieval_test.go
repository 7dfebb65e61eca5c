package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"fundgraph/backend/internal/catalog"
	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agriFixture(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	res, err := s.Apply(context.Background(), graph.Diff{
		UpsertEntities: []graph.Entity{
			graph.Sector{ID: "sector-agritech", Name: "AgriTech"},
			graph.Sector{ID: "sector-healthtech", Name: "HealthTech"},
			graph.Location{ID: "loc-tn", Name: "Tamil Nadu", Level: graph.LevelState},
			graph.Location{ID: "loc-ka", Name: "Karnataka", Level: graph.LevelState},
			graph.Investor{ID: "inv-agri-tn", Name: "Kongu Angels", Sectors: []string{"AgriTech"}, Locations: []string{"Tamil Nadu"}},
			graph.Investor{ID: "inv-health-tn", Name: "Chennai Angels", Sectors: []string{"HealthTech"}, Locations: []string{"Tamil Nadu"}},
			graph.Investor{ID: "inv-agri-ka", Name: "Bengaluru Agri Fund", Sectors: []string{"AgriTech"}, Locations: []string{"Karnataka"}},
			graph.Scheme{ID: "scheme-tn", Name: "TANSEED", State: "Tamil Nadu"},
		},
		UpsertEdges: []graph.Edge{
			{Type: graph.EdgeInvestsIn, From: "inv-agri-tn", To: "sector-agritech"},
			{Type: graph.EdgeOperatesIn, From: "inv-agri-tn", To: "loc-tn"},
			{Type: graph.EdgeInvestsIn, From: "inv-health-tn", To: "sector-healthtech"},
			{Type: graph.EdgeOperatesIn, From: "inv-health-tn", To: "loc-tn"},
			{Type: graph.EdgeInvestsIn, From: "inv-agri-ka", To: "sector-agritech"},
			{Type: graph.EdgeOperatesIn, From: "inv-agri-ka", To: "loc-ka"},
			{Type: graph.EdgeOffersScheme, From: "loc-tn", To: "scheme-tn"},
		},
	})
	require.NoError(t, err)
	require.Zero(t, res.Skipped, "fixture errors: %v", res.Errors)
	return s
}

func seededStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	summary, err := catalog.New(s).LoadFile(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, summary.Rejected)
	return s
}

func TestRetrieve_AgriTechInTamilNadu(t *testing.T) {
	svc := NewService(agriFixture(t))

	res, err := svc.Retrieve(context.Background(), "Who invests in AgriTech in Tamil Nadu?", 5)
	require.NoError(t, err)

	require.Len(t, res.Facts, 1)
	assert.Equal(t, "inv-agri-tn", res.Facts[0].SourceEntityID)
	assert.Equal(t, graph.KindInvestor, res.Facts[0].Kind)
	assert.Contains(t, res.Facts[0].Text, "Kongu Angels")
	assert.False(t, res.Partial)
	assert.Equal(t, []graph.Kind{graph.KindInvestor}, res.Intent)

	mentioned := make([]string, 0, len(res.Mentions))
	for _, m := range res.Mentions {
		mentioned = append(mentioned, m.EntityID)
	}
	assert.Equal(t, []string{"sector-agritech", "loc-tn"}, mentioned)
}

func TestRetrieve_BoundedAndCited(t *testing.T) {
	store := seededStore(t)
	svc := NewService(store)

	queries := []string{
		"Who invests in AgriTech in Tamil Nadu?",
		"What schemes are available in Karnataka?",
		"Any hackathons for healthcare startups?",
		"Tell me about Villgro",
		"FinTech investors in Mumbai",
		"something entirely unrelated",
	}
	for _, q := range queries {
		for _, k := range []int{1, 3, 5} {
			res, err := svc.Retrieve(context.Background(), q, k)
			require.NoError(t, err, q)
			assert.LessOrEqual(t, len(res.Facts), k, q)

			seen := map[string]bool{}
			for _, f := range res.Facts {
				_, err := store.GetEntity(f.SourceEntityID)
				assert.NoError(t, err, "citation %s for %q", f.SourceEntityID, q)
				assert.False(t, seen[f.SourceEntityID], "duplicate fact for %q", q)
				seen[f.SourceEntityID] = true
				assert.Contains(t, f.Text, "["+f.SourceEntityID+"]")
			}
		}
	}
}

func TestRetrieve_SeedDataExamples(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.Retrieve(context.Background(), "Who invests in AgriTech in Tamil Nadu?", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inv-kongu-angels", "inv-villgro"}, factIDs(res.Facts))

	res, err = svc.Retrieve(context.Background(), "Tell me about Villgro", 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Facts)
	assert.Equal(t, "inv-villgro", res.Facts[0].SourceEntityID)

	res, err = svc.Retrieve(context.Background(), "government schemes in TN", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"scheme-tanseed"}, factIDs(res.Facts))
}

func TestRetrieve_IntentOnlyFallback(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.Retrieve(context.Background(), "Show me upcoming hackathons", 3)
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	require.Len(t, res.Facts, 3)
	for _, f := range res.Facts {
		assert.Equal(t, graph.KindOpportunity, f.Kind)
		assert.Equal(t, baseRelevance, f.Relevance)
	}
	assert.Equal(t, []string{"opp-agri-hackathon", "opp-climate-grant", "opp-digital-health"}, factIDs(res.Facts))

	res, err = svc.Retrieve(context.Background(), "hello there", 3)
	require.NoError(t, err)
	assert.Empty(t, res.Facts)
}

func TestRetrieve_DeadlineReturnsPartial(t *testing.T) {
	svc := NewService(seededStore(t))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := svc.Retrieve(ctx, "Who invests in AgriTech in Tamil Nadu?", 5)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.LessOrEqual(t, len(res.Facts), 5)
}

func TestRetrieve_LongQueryHonoursDeadline(t *testing.T) {
	svc := NewService(seededStore(t))
	query := strings.Repeat("tn ", 60000)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := svc.Retrieve(ctx, query, 5)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.LessOrEqual(t, len(res.Facts), 5)
}

func TestExtractMentions_ExpiredContext(t *testing.T) {
	snap := seededStore(t).Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mentions, _, partial := extractMentions(ctx, snap, "Chennai Angels in Tamil Nadu")
	assert.True(t, partial)
	assert.Empty(t, mentions)
}

func TestWordIndexes_MultibyteBoundaries(t *testing.T) {
	assert.Equal(t, []int{0, 9}, wordIndexes("tn über tn", "tn"))
	assert.Empty(t, wordIndexes("étn", "tn"))
	assert.Equal(t, []int{3}, wordIndexes("« tn", "tn"))
}

func TestRetrieve_Deterministic(t *testing.T) {
	svc := NewService(seededStore(t))
	q := "AgriTech investors and schemes for MVP startups"

	first, err := svc.Retrieve(context.Background(), q, 5)
	require.NoError(t, err)
	second, err := svc.Retrieve(context.Background(), q, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type sequenceSource struct {
	snaps []*graph.Snapshot
	calls int
}

func (s *sequenceSource) Snapshot() *graph.Snapshot {
	i := min(s.calls, len(s.snaps)-1)
	s.calls++
	return s.snaps[i]
}

func TestRetrieve_DropsCitationsMissingFromCurrentSnapshot(t *testing.T) {
	store := agriFixture(t)
	before := store.Snapshot()
	_, err := store.Apply(context.Background(), graph.Diff{RemoveEntities: []string{"inv-agri-tn"}})
	require.NoError(t, err)

	svc := NewService(&sequenceSource{snaps: []*graph.Snapshot{before, store.Snapshot()}})
	res, err := svc.Retrieve(context.Background(), "Who invests in AgriTech in Tamil Nadu?", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Facts)
}

func TestRetrieve_InvalidK(t *testing.T) {
	svc := NewService(agriFixture(t))
	_, err := svc.Retrieve(context.Background(), "AgriTech", 0)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestExtractMentions(t *testing.T) {
	snap := seededStore(t).Snapshot()

	mentions, rest, partial := extractMentions(context.Background(), snap, "Is Chennai Angels active in Bangalore?")
	assert.False(t, partial)
	ids := make([]string, 0, len(mentions))
	for _, m := range mentions {
		ids = append(ids, m.EntityID)
	}
	assert.Equal(t, []string{"inv-chennai-angels", "loc-bengaluru"}, ids)
	assert.NotContains(t, rest, "angels")

	mentions, _, _ = extractMentions(context.Background(), snap, "agritechs and fintechy ideas")
	for _, m := range mentions {
		assert.NotEqual(t, "sector-agritech", m.EntityID)
		assert.NotEqual(t, "sector-fintech", m.EntityID)
	}
}

func TestDetectIntent(t *testing.T) {
	assert.Equal(t, []graph.Kind{graph.KindInvestor, graph.KindScheme}, detectIntent("which vcs or government schemes"))
	assert.Empty(t, detectIntent("how do i register"))
}

func TestRender(t *testing.T) {
	f := render(graph.Investor{
		ID:         "inv-1",
		Name:       "Omnivore",
		Type:       "Venture Capital",
		Sectors:    []string{"AgriTech"},
		Stages:     []string{"MVP"},
		TicketSize: "₹2Cr",
		Source:     "Fund Announcement",
	}, 0.123456)

	assert.Equal(t, "Omnivore (Venture Capital) invests in AgriTech at MVP stage across India; ticket size ₹2Cr [inv-1]", f.Text)
	assert.Equal(t, 0.1235, f.Relevance)
	assert.Equal(t, "Fund Announcement", f.Citation)
	assert.False(t, strings.Contains(f.Text, "\n"))
}

func factIDs(facts []Fact) []string {
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		ids = append(ids, f.SourceEntityID)
	}
	return ids
}
