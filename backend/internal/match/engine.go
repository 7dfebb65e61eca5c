package match

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// Gate names reported in Breakdown.FailedGates
const (
	GateDPIIT          = "dpiit_required"
	GateRevenueCeiling = "revenue_ceiling"
	GateRule           = "eligibility_rule"
	GateDeadline       = "deadline_passed"
)

// SnapshotSource supplies the current graph snapshot
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Breakdown explains a score
type Breakdown struct {
	Sector      float64  `json:"sector"`
	Stage       float64  `json:"stage"`
	Location    float64  `json:"location"`
	Eligible    bool     `json:"eligible"`
	FailedGates []string `json:"failed_gates,omitempty"`
}

// Result is the score of one candidate for one startup
type Result struct {
	EntityID  string       `json:"id"`
	Kind      graph.Kind   `json:"type"`
	Name      string       `json:"name"`
	Score     float64      `json:"score"`
	Breakdown Breakdown    `json:"breakdown"`
	Entity    graph.Entity `json:"-"`
}

// Engine scores startups against investors, schemes and opportunities
type Engine struct {
	source  SnapshotSource
	weights Weights
	now     func() time.Time
	rules   sync.Map // rule expression -> cel.Program
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithWeights overrides the default weights
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithClock sets the time source used for deadline gates
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a match engine reading from source
func NewEngine(source SnapshotSource, opts ...Option) *Engine {
	e := &Engine{
		source:  source,
		weights: DefaultWeights(),
		now:     time.Now,
		logger:  logger.Named("match"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.weights.Validate(); err != nil {
		e.logger.Warn("Invalid match weights, using defaults",
			zap.Error(err),
			zap.Any("weights", e.weights),
		)
		e.weights = DefaultWeights()
	}
	return e
}

// Weights returns the weights in use
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score rates candidate for startup on a 0..100 scale
func (e *Engine) Score(startup graph.Startup, candidate graph.Entity) Result {
	return e.score(e.source.Snapshot(), startup, candidate)
}

// Rank scores every entity of kind and returns the best k, ordered by score,
// then most recent investor activity, then id. k <= 0 returns all.
func (e *Engine) Rank(startup graph.Startup, kind graph.Kind, k int) ([]Result, error) {
	switch kind {
	case graph.KindInvestor, graph.KindScheme, graph.KindOpportunity:
	default:
		return nil, apperrors.NewValidation(string(kind), "type", "only investors, schemes and opportunities can be ranked")
	}

	snap := e.source.Snapshot()
	candidates := snap.Entities(kind)
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, e.score(snap, startup, c))
	}

	slices.SortFunc(results, compareResults)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// EligibleSchemes computes the ELIGIBLE_FOR edges from the startup to every
// scheme whose eligibility gates pass. The edges are never stored.
func (e *Engine) EligibleSchemes(startup graph.Startup) []graph.Edge {
	snap := e.source.Snapshot()
	var edges []graph.Edge
	for _, c := range snap.Entities(graph.KindScheme) {
		scheme := c.(graph.Scheme)
		if len(e.schemeGates(startup, scheme)) > 0 {
			continue
		}
		edges = append(edges, graph.Edge{
			Type: graph.EdgeEligibleFor,
			From: startup.ID,
			To:   scheme.ID,
		})
	}
	return edges
}

func (e *Engine) score(snap *graph.Snapshot, startup graph.Startup, candidate graph.Entity) Result {
	result := Result{
		EntityID: candidate.EntityID(),
		Kind:     candidate.EntityKind(),
		Name:     candidate.DisplayName(),
		Entity:   candidate,
	}

	var b Breakdown
	switch c := candidate.(type) {
	case graph.Investor:
		b.Sector = overlap(snap, graph.KindSector, c.Sectors, startup.Sector)
		b.Stage = overlap(snap, graph.KindStage, c.Stages, startup.Stage)
		if c.AcceptsAllLocations() || locationMatches(snap, c.Locations, startup.Location) {
			b.Location = 1
		}
	case graph.Scheme:
		b.Sector = overlap(snap, graph.KindSector, c.Eligibility.Sectors, startup.Sector)
		b.Stage = overlap(snap, graph.KindStage, c.Eligibility.Stages, startup.Stage)
		if c.IsCentral() || locationMatches(snap, []string{c.State}, startup.Location) {
			b.Location = 1
		}
		b.FailedGates = e.schemeGates(startup, c)
	case graph.Opportunity:
		b.Sector = 1
		if c.Sector != "" {
			b.Sector = overlap(snap, graph.KindSector, []string{c.Sector}, startup.Sector)
		}
		b.Stage = 1
		b.Location = 1
		if c.Deadline.Before(e.now()) {
			b.FailedGates = append(b.FailedGates, GateDeadline)
		}
	default:
		b.FailedGates = append(b.FailedGates, fmt.Sprintf("unscorable_%s", candidate.EntityKind()))
	}
	b.Eligible = len(b.FailedGates) == 0
	result.Breakdown = b

	if !b.Eligible {
		return result
	}
	w := e.weights
	raw := 100 * (w.Sector*b.Sector + w.Stage*b.Stage + w.Location*b.Location) / w.Sum()
	result.Score = clamp(math.Round(raw*100) / 100)
	return result
}

func (e *Engine) schemeGates(startup graph.Startup, scheme graph.Scheme) []string {
	var failed []string
	el := scheme.Eligibility
	if el.RequiresDPIIT && !startup.DPIITRegistered {
		failed = append(failed, GateDPIIT)
	}
	if el.MaxMonthlyRevenue > 0 && startup.MonthlyRevenue > el.MaxMonthlyRevenue {
		failed = append(failed, GateRevenueCeiling)
	}
	if el.Rule != "" && !e.ruleHolds(scheme.ID, el.Rule, startup) {
		failed = append(failed, GateRule)
	}
	return failed
}

func (e *Engine) ruleHolds(schemeID, expr string, startup graph.Startup) bool {
	var prg cel.Program
	if cached, ok := e.rules.Load(expr); ok {
		prg = cached.(cel.Program)
	} else {
		compiled, err := CompileRule(expr)
		if err != nil {
			e.logger.Warn("Eligibility rule does not compile",
				zap.String("scheme_id", schemeID),
				zap.Error(err),
			)
			return false
		}
		e.rules.Store(expr, compiled)
		prg = compiled
	}

	ok, err := evalRule(prg, startup)
	if err != nil {
		e.logger.Debug("Eligibility rule evaluation failed",
			zap.String("scheme_id", schemeID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// overlap is 1 when value is in list, by name, alias or id. An empty list
// places no constraint.
func overlap(snap *graph.Snapshot, kind graph.Kind, list []string, value string) float64 {
	if len(list) == 0 {
		return 1
	}
	if termIn(snap, kind, list, value) {
		return 1
	}
	return 0
}

// locationMatches accepts the startup's location or any place it lies in
func locationMatches(snap *graph.Snapshot, accepted []string, location string) bool {
	if location == "" {
		return false
	}
	if termIn(snap, graph.KindLocation, accepted, location) {
		return true
	}
	loc, ok := snap.FindByName(location, graph.KindLocation)
	if !ok {
		return false
	}
	for _, ancestorID := range snap.Ancestors(loc.EntityID(), graph.EdgeLocatedIn) {
		if termIn(snap, graph.KindLocation, accepted, ancestorID) {
			return true
		}
	}
	return false
}

func termIn(snap *graph.Snapshot, kind graph.Kind, list []string, value string) bool {
	if value == "" {
		return false
	}
	if graph.ContainsFold(list, value) {
		return true
	}
	target, ok := snap.FindByName(value, kind)
	if !ok {
		return false
	}
	for _, item := range list {
		if resolved, ok := snap.FindByName(item, kind); ok && resolved.EntityID() == target.EntityID() {
			return true
		}
	}
	return false
}

func compareResults(a, b Result) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := lastActive(b).Compare(lastActive(a)); c != 0 {
		return c
	}
	return strings.Compare(a.EntityID, b.EntityID)
}

func lastActive(r Result) time.Time {
	if inv, ok := r.Entity.(graph.Investor); ok {
		return inv.LastActive
	}
	return time.Time{}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
