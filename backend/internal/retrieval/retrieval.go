package retrieval

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout applies when the caller's context has no deadline
	DefaultTimeout = 2 * time.Second
	// DefaultDepth is the number of hops walked from each mention
	DefaultDepth = 2
	// depthDecay discounts each hop away from a mention
	depthDecay = 0.5
	// baseRelevance is given to facts found by intent alone
	baseRelevance = 0.1
)

// renderableKinds are the entities that become facts
var renderableKinds = []graph.Kind{graph.KindInvestor, graph.KindScheme, graph.KindOpportunity}

// SnapshotSource supplies the current graph snapshot
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Fact is one citable statement about a catalog entity
type Fact struct {
	Text           string     `json:"text"`
	SourceEntityID string     `json:"source_id"`
	SourceName     string     `json:"source_name"`
	Kind           graph.Kind `json:"type"`
	Relevance      float64    `json:"relevance"`
	Citation       string     `json:"citation,omitempty"`
}

// Result is the outcome of a retrieval
type Result struct {
	Facts    []Fact       `json:"facts"`
	Partial  bool         `json:"partial"`
	Mentions []Mention    `json:"mentions"`
	Intent   []graph.Kind `json:"intent,omitempty"`
}

// Service turns a free-text question into ranked facts from the graph
type Service struct {
	source  SnapshotSource
	depth   int
	timeout time.Duration
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithDepth sets the number of hops walked from each mention
func WithDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.depth = depth
		}
	}
}

// WithTimeout sets the deadline used when the context has none
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a retrieval service over source
func NewService(source SnapshotSource, opts ...Option) *Service {
	s := &Service{
		source:  source,
		depth:   DefaultDepth,
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("fundgraph/retrieval"),
		logger:  logger.Named("retrieval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type candidate struct {
	entity   graph.Entity
	score    float64
	coverage int
}

// Retrieve returns at most k facts relevant to query. When the deadline
// expires mid-walk the facts gathered so far are returned with Partial set.
// Every returned fact cites an entity present in the current snapshot.
func (s *Service) Retrieve(ctx context.Context, query string, k int) (Result, error) {
	if k <= 0 {
		return Result{}, apperrors.NewValidation("", "k", "must be positive")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	snap := s.source.Snapshot()
	mentions, rest, partial := extractMentions(ctx, snap, query)
	intent := detectIntent(rest)
	kinds := renderableKinds
	if len(intent) > 0 {
		kinds = intent
	}

	result := Result{Mentions: mentions, Intent: intent, Partial: partial}
	candidates := map[string]*candidate{}

	if len(mentions) > 0 {
		result.Partial = !s.walk(ctx, snap, mentions, candidates) || partial
	} else if len(intent) > 0 && !partial {
		for _, kind := range intent {
			for _, e := range snap.Entities(kind) {
				candidates[e.EntityID()] = &candidate{entity: e, score: baseRelevance, coverage: 1}
			}
		}
	}

	ranked := rank(candidates, kinds)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	// The graph may have been swapped while we walked
	current := s.source.Snapshot()
	for _, c := range ranked {
		e, ok := current.Get(c.entity.EntityID())
		if !ok {
			continue
		}
		result.Facts = append(result.Facts, render(e, c.score))
	}

	if result.Partial {
		timeout := apperrors.NewRetrievalTimeout(query, len(candidates), ctx.Err())
		s.logger.Warn("Retrieval returned partial results",
			zap.Error(timeout),
			zap.Int("facts", len(result.Facts)),
		)
	}
	span.SetAttributes(
		attribute.Int("retrieval.mentions", len(mentions)),
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("retrieval.facts", len(result.Facts)),
		attribute.Bool("retrieval.partial", result.Partial),
	)
	s.logger.Debug("Retrieved facts",
		zap.Int("mentions", len(mentions)),
		zap.Int("facts", len(result.Facts)),
		zap.Bool("partial", result.Partial),
	)
	return result, nil
}

// walk runs a breadth-first search from every mention over both edge
// directions. A path contributes the product of its edge weights times
// 0.5^depth; contributions from different mentions add up. It reports false
// when the deadline cut the walk short.
func (s *Service) walk(ctx context.Context, snap *graph.Snapshot, mentions []Mention, candidates map[string]*candidate) bool {
	add := func(e graph.Entity, score float64) {
		c, ok := candidates[e.EntityID()]
		if !ok {
			c = &candidate{entity: e}
			candidates[e.EntityID()] = c
		}
		c.score += score
		c.coverage++
	}

	for _, m := range mentions {
		if ctx.Err() != nil {
			return false
		}
		seed, ok := snap.Get(m.EntityID)
		if !ok {
			continue
		}
		add(seed, 1)

		visited := map[string]bool{m.EntityID: true}
		frontier := map[string]float64{m.EntityID: 1}
		for depth := 1; depth <= s.depth && len(frontier) > 0; depth++ {
			next := map[string]float64{}
			for _, id := range sortedKeys(frontier) {
				if ctx.Err() != nil {
					return false
				}
				for _, edge := range snap.Adjacent(id, "") {
					other := edge.To
					if other == id {
						other = edge.From
					}
					if visited[other] {
						continue
					}
					weight := frontier[id] * edge.EffectiveWeight()
					if weight > next[other] {
						next[other] = weight
					}
				}
			}
			decay := math.Pow(depthDecay, float64(depth))
			for _, id := range sortedKeys(next) {
				visited[id] = true
				if e, ok := snap.Get(id); ok {
					add(e, next[id]*decay)
				}
			}
			frontier = next
		}
	}
	return true
}

// rank keeps candidates of the wanted kinds reached from the most mentions
// and orders them by score, then id.
func rank(candidates map[string]*candidate, kinds []graph.Kind) []*candidate {
	var ranked []*candidate
	maxCoverage := 0
	for _, c := range candidates {
		if !slices.Contains(kinds, c.entity.EntityKind()) {
			continue
		}
		ranked = append(ranked, c)
		maxCoverage = max(maxCoverage, c.coverage)
	}
	ranked = slices.DeleteFunc(ranked, func(c *candidate) bool { return c.coverage < maxCoverage })
	slices.SortFunc(ranked, func(a, b *candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.entity.EntityID(), b.entity.EntityID())
	})
	return ranked
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
