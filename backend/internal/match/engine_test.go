package match

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func healthStartup() graph.Startup {
	return graph.Startup{
		ID:              "startup-1",
		Sector:          "HealthTech",
		Stage:           "MVP",
		Location:        "Bangalore",
		DPIITRegistered: true,
		TeamSize:        3,
	}
}

func newTestStore(t *testing.T, diff graph.Diff) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	res, err := s.Apply(context.Background(), diff)
	require.NoError(t, err)
	require.Zero(t, res.Skipped, "fixture errors: %v", res.Errors)
	return s
}

func locationDiff() graph.Diff {
	return graph.Diff{
		UpsertEntities: []graph.Entity{
			graph.Location{ID: "loc-south", Name: "South India", Level: graph.LevelRegion},
			graph.Location{ID: "loc-karnataka", Name: "Karnataka", Level: graph.LevelState},
			graph.Location{ID: "loc-bengaluru", Name: "Bengaluru", Level: graph.LevelCity, Aliases: []string{"Bangalore"}},
		},
		UpsertEdges: []graph.Edge{
			{Type: graph.EdgeLocatedIn, From: "loc-bengaluru", To: "loc-karnataka"},
			{Type: graph.EdgeLocatedIn, From: "loc-karnataka", To: "loc-south"},
		},
	}
}

func TestScore_FullOverlapIs100(t *testing.T) {
	engine := NewEngine(graph.NewStore())
	investor := graph.Investor{
		ID:        "inv-1",
		Name:      "Health Fund",
		Sectors:   []string{"HealthTech", "FinTech"},
		Stages:    []string{"MVP", "Revenue"},
		Locations: []string{"Bangalore"},
	}

	r := engine.Score(healthStartup(), investor)
	assert.Equal(t, 100.0, r.Score)
	assert.True(t, r.Breakdown.Eligible)
	assert.Equal(t, 1.0, r.Breakdown.Sector)
	assert.Equal(t, 1.0, r.Breakdown.Stage)
	assert.Equal(t, 1.0, r.Breakdown.Location)
}

func TestScore_DegenerateWeightsStayInRange(t *testing.T) {
	investor := graph.Investor{
		ID:        "inv-1",
		Name:      "Health Fund",
		Sectors:   []string{"HealthTech"},
		Stages:    []string{"MVP"},
		Locations: []string{"Bangalore"},
	}

	for _, w := range []Weights{
		{},
		{Sector: 1, Stage: -1},
		{Sector: math.NaN(), Stage: 1},
		{Sector: math.Inf(1)},
	} {
		engine := NewEngine(graph.NewStore(), WithWeights(w))
		assert.Equal(t, DefaultWeights(), engine.Weights())

		r := engine.Score(healthStartup(), investor)
		assert.False(t, math.IsNaN(r.Score))
		assert.Equal(t, 100.0, r.Score)
	}

	assert.Zero(t, clamp(math.NaN()))
	assert.Equal(t, 100.0, clamp(250))
	assert.Zero(t, clamp(-3))
}

func TestScore_DPIITGateZeroes(t *testing.T) {
	engine := NewEngine(graph.NewStore())
	startup := healthStartup()
	startup.DPIITRegistered = false
	scheme := graph.Scheme{
		ID:   "scheme-1",
		Name: "Seed Fund",
		Eligibility: graph.Eligibility{
			Sectors:       []string{"HealthTech"},
			Stages:        []string{"MVP"},
			RequiresDPIIT: true,
		},
	}

	r := engine.Score(startup, scheme)
	assert.Zero(t, r.Score)
	assert.False(t, r.Breakdown.Eligible)
	assert.Equal(t, []string{GateDPIIT}, r.Breakdown.FailedGates)
	assert.Equal(t, 1.0, r.Breakdown.Sector, "overlap is still reported")

	startup.DPIITRegistered = true
	assert.Equal(t, 100.0, engine.Score(startup, scheme).Score)
}

func TestScore_PartialOverlap(t *testing.T) {
	engine := NewEngine(graph.NewStore())
	investor := graph.Investor{
		ID:        "inv-1",
		Name:      "Fin Fund",
		Sectors:   []string{"FinTech"},
		Stages:    []string{"MVP"},
		Locations: []string{"*"},
	}
	// stage 0.35 + location 0.25
	assert.Equal(t, 60.0, engine.Score(healthStartup(), investor).Score)

	engine = NewEngine(graph.NewStore(), WithWeights(Weights{Sector: 1, Stage: 1, Location: 1}))
	assert.Equal(t, 66.67, engine.Score(healthStartup(), investor).Score)
}

func TestScore_LocationAncestors(t *testing.T) {
	engine := NewEngine(newTestStore(t, locationDiff()))
	byRegion := graph.Investor{ID: "inv-south", Name: "South Fund", Locations: []string{"South India"}}
	byState := graph.Investor{ID: "inv-ka", Name: "KA Fund", Locations: []string{"loc-karnataka"}}
	elsewhere := graph.Investor{ID: "inv-mh", Name: "MH Fund", Locations: []string{"Maharashtra"}}

	assert.Equal(t, 1.0, engine.Score(healthStartup(), byRegion).Breakdown.Location)
	assert.Equal(t, 1.0, engine.Score(healthStartup(), byState).Breakdown.Location)
	assert.Zero(t, engine.Score(healthStartup(), elsewhere).Breakdown.Location)

	stateScheme := graph.Scheme{ID: "scheme-ka", Name: "Elevate", State: "Karnataka"}
	assert.Equal(t, 100.0, engine.Score(healthStartup(), stateScheme).Score)
}

func TestScore_SchemeGates(t *testing.T) {
	engine := NewEngine(graph.NewStore())
	startup := healthStartup()
	startup.MonthlyRevenue = 2_000_000

	ceiling := graph.Scheme{ID: "s1", Name: "Small", Eligibility: graph.Eligibility{MaxMonthlyRevenue: 1_000_000}}
	r := engine.Score(startup, ceiling)
	assert.Zero(t, r.Score)
	assert.Equal(t, []string{GateRevenueCeiling}, r.Breakdown.FailedGates)

	teamRule := graph.Scheme{ID: "s2", Name: "Teams", Eligibility: graph.Eligibility{Rule: "startup.team_size >= 5"}}
	assert.Zero(t, engine.Score(startup, teamRule).Score)
	startup.TeamSize = 5
	assert.Equal(t, 100.0, engine.Score(startup, teamRule).Score)

	revenueRule := graph.Scheme{ID: "s3", Name: "Revenue", Eligibility: graph.Eligibility{Rule: "startup.monthly_revenue < 3000000 && startup.dpiit_registered"}}
	assert.Equal(t, 100.0, engine.Score(startup, revenueRule).Score)

	broken := graph.Scheme{ID: "s4", Name: "Broken", Eligibility: graph.Eligibility{Rule: "startup.team_size >"}}
	assert.Equal(t, []string{GateRule}, engine.Score(startup, broken).Breakdown.FailedGates)
}

func TestScore_OpportunityDeadline(t *testing.T) {
	engine := NewEngine(graph.NewStore(), WithClock(func() time.Time { return fixedNow }))
	open := graph.Opportunity{ID: "o1", Name: "Open", Type: graph.OpportunityGrant, Deadline: fixedNow.Add(24 * time.Hour)}
	closed := graph.Opportunity{ID: "o2", Name: "Closed", Type: graph.OpportunityGrant, Sector: "HealthTech", Deadline: fixedNow.Add(-time.Hour)}
	other := graph.Opportunity{ID: "o3", Name: "Fin", Type: graph.OpportunityHackathon, Sector: "FinTech", Deadline: fixedNow.Add(time.Hour)}

	assert.Equal(t, 100.0, engine.Score(healthStartup(), open).Score)
	assert.Zero(t, engine.Score(healthStartup(), closed).Score)
	assert.Equal(t, []string{GateDeadline}, engine.Score(healthStartup(), closed).Breakdown.FailedGates)
	assert.Equal(t, 60.0, engine.Score(healthStartup(), other).Score)
}

func TestRank_OrderingAndTieBreak(t *testing.T) {
	diff := graph.Diff{UpsertEntities: []graph.Entity{
		graph.Investor{ID: "inv-b", Name: "B", Sectors: []string{"HealthTech"}, Stages: []string{"MVP"}, LastActive: fixedNow.AddDate(0, -1, 0)},
		graph.Investor{ID: "inv-a", Name: "A", Sectors: []string{"HealthTech"}, Stages: []string{"MVP"}, LastActive: fixedNow.AddDate(0, -1, 0)},
		graph.Investor{ID: "inv-c", Name: "C", Sectors: []string{"HealthTech"}, Stages: []string{"MVP"}, LastActive: fixedNow},
		graph.Investor{ID: "inv-d", Name: "D", Sectors: []string{"FinTech"}, Stages: []string{"MVP"}, LastActive: fixedNow},
	}}
	engine := NewEngine(newTestStore(t, diff))

	results, err := engine.Rank(healthStartup(), graph.KindInvestor, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.EntityID)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 100.0)
	}
	assert.Equal(t, []string{"inv-c", "inv-a", "inv-b", "inv-d"}, ids)

	again, err := engine.Rank(healthStartup(), graph.KindInvestor, 0)
	require.NoError(t, err)
	assert.Equal(t, results, again)

	top, err := engine.Rank(healthStartup(), graph.KindInvestor, 2)
	require.NoError(t, err)
	assert.Equal(t, results[:2], top)
}

func TestRank_RejectsUnrankableKind(t *testing.T) {
	engine := NewEngine(graph.NewStore())
	_, err := engine.Rank(healthStartup(), graph.KindSector, 3)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestEligibleSchemes(t *testing.T) {
	diff := graph.Diff{UpsertEntities: []graph.Entity{
		graph.Scheme{ID: "scheme-dpiit", Name: "DPIIT only", Eligibility: graph.Eligibility{RequiresDPIIT: true}},
		graph.Scheme{ID: "scheme-open", Name: "Open", Eligibility: graph.Eligibility{Sectors: []string{"AgriTech"}}},
		graph.Scheme{ID: "scheme-small", Name: "Small", Eligibility: graph.Eligibility{MaxMonthlyRevenue: 10}},
	}}
	engine := NewEngine(newTestStore(t, diff))
	startup := healthStartup()
	startup.DPIITRegistered = false
	startup.MonthlyRevenue = 100

	edges := engine.EligibleSchemes(startup)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.Edge{Type: graph.EdgeEligibleFor, From: "startup-1", To: "scheme-open"}, edges[0])
}

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sector: 0.5\nstage: 0.5\n"), 0o600))

	w, err := LoadWeights(path, DefaultWeights())
	require.NoError(t, err)
	assert.Equal(t, Weights{Sector: 0.5, Stage: 0.5, Location: 0.25}, w)

	require.NoError(t, os.WriteFile(path, []byte("sector: -1\n"), 0o600))
	_, err = LoadWeights(path, DefaultWeights())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))

	_, err = LoadWeights(filepath.Join(dir, "missing.yaml"), DefaultWeights())
	assert.Error(t, err)
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(`startup.sector == "AgriTech"`))
	assert.Error(t, ValidateRule(`startup.sector ==`))
	assert.Error(t, ValidateRule(`1 + 2`))
}
