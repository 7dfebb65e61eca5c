package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"fundgraph/backend/internal/graph"
	"fundgraph/backend/internal/match"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"go.uber.org/zap"
)

//go:embed seed_data.json
var defaultSeed []byte

// Summary reports the outcome of a load
type Summary struct {
	Accepted int     `json:"accepted"`
	Rejected int     `json:"rejected"`
	Errors   []error `json:"-"`
}

// Catalog turns seed records into graph entities and keeps the startup
// profiles found alongside them.
type Catalog struct {
	store  *graph.Store
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]graph.Startup
	order    []string
}

// New creates a catalog that loads into store
func New(store *graph.Store) *Catalog {
	return &Catalog{
		store:    store,
		logger:   logger.Named("catalog"),
		profiles: map[string]graph.Startup{},
	}
}

// LoadFile loads a seed file. An empty path loads the embedded data set.
func (c *Catalog) LoadFile(ctx context.Context, path string) (Summary, error) {
	if path == "" {
		return c.LoadBytes(ctx, defaultSeed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	return c.LoadBytes(ctx, data)
}

// LoadBytes parses a JSON array of records and loads it
func (c *Catalog) LoadBytes(ctx context.Context, data []byte) (Summary, error) {
	records, err := ParseRecords(data)
	if err != nil {
		return Summary{}, err
	}
	return c.Load(ctx, records)
}

// ParseRecords decodes a JSON array of records
func ParseRecords(data []byte) ([]graph.Record, error) {
	var records []graph.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperrors.NewValidation("", "seed", err.Error())
	}
	return records, nil
}

type candidate struct {
	record graph.Record
	entity graph.Entity
	edges  []graph.Edge
}

// Load validates records and writes the accepted ones in a single batch.
// A malformed record (missing id or type, unknown type, invalid attributes,
// an edge to an unknown target) is rejected on its own; rejecting a record
// also rejects records whose edges pointed at it. Startup records become
// profiles instead of graph entities.
func (c *Catalog) Load(ctx context.Context, records []graph.Record) (Summary, error) {
	var summary Summary
	reject := func(err error) {
		summary.Rejected++
		summary.Errors = append(summary.Errors, err)
		c.logger.Warn("Rejected seed record", zap.Error(err))
	}

	batch, err := c.store.Begin()
	if err != nil {
		return Summary{}, err
	}
	defer batch.Discard()

	var profiles []graph.Startup
	candidates := map[string]*candidate{}
	var order []string
	seen := map[string]bool{}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return Summary{}, apperrors.NewContextCancelled("catalog load", err)
		}
		e, err := decodeRecord(rec)
		if err == nil && seen[rec.ID] {
			err = apperrors.NewValidation(rec.ID, "id", "duplicate id")
		}
		if err != nil {
			reject(err)
			continue
		}
		seen[rec.ID] = true

		if s, ok := e.(graph.Startup); ok {
			if len(rec.Edges) > 0 {
				c.logger.Debug("Ignoring edges on startup profile", zap.String("id", rec.ID))
			}
			profiles = append(profiles, s)
			summary.Accepted++
			continue
		}
		candidates[rec.ID] = &candidate{record: rec, entity: e}
		order = append(order, rec.ID)
	}

	// Edge checks run to a fixpoint since rejecting one record can strand
	// edges declared on another.
	lookup := func(id string) (graph.Entity, bool) {
		if cand, ok := candidates[id]; ok {
			return cand.entity, true
		}
		return c.store.Snapshot().Get(id)
	}
	for changed := true; changed; {
		changed = false
		for _, id := range order {
			cand, ok := candidates[id]
			if !ok {
				continue
			}
			edges, err := resolveEdges(cand, lookup)
			if err != nil {
				reject(err)
				delete(candidates, id)
				changed = true
				continue
			}
			cand.edges = edges
		}
	}

	for _, id := range order {
		cand, ok := candidates[id]
		if !ok {
			continue
		}
		if err := batch.UpsertEntity(cand.entity); err != nil {
			reject(err)
			delete(candidates, id)
		}
	}
	for _, id := range order {
		cand, ok := candidates[id]
		if !ok {
			continue
		}
		for _, edge := range cand.edges {
			if err := batch.UpsertEdge(edge); err != nil {
				// Only reachable when the target was dropped by the store itself
				c.logger.Warn("Dropped seed edge", zap.String("id", id), zap.Error(err))
			}
		}
		summary.Accepted++
	}

	if err := ctx.Err(); err != nil {
		return Summary{}, apperrors.NewContextCancelled("catalog load", err)
	}
	version, err := batch.Commit()
	if err != nil {
		return Summary{}, err
	}

	c.mu.Lock()
	for _, p := range profiles {
		if _, exists := c.profiles[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.profiles[p.ID] = p
	}
	c.mu.Unlock()

	c.logger.Info("Catalog loaded",
		zap.Int("accepted", summary.Accepted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("profiles", len(profiles)),
		zap.Uint64("graph_version", version),
	)
	return summary, nil
}

func decodeRecord(rec graph.Record) (graph.Entity, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, apperrors.NewValidation(rec.ID, "id", "missing")
	}
	if strings.TrimSpace(rec.Type) == "" {
		return nil, apperrors.NewValidation(rec.ID, "type", "missing")
	}
	kind, err := graph.ParseKind(rec.Type)
	if err != nil {
		return nil, apperrors.NewValidation(rec.ID, "type", err.Error())
	}
	e, err := graph.DecodeEntity(kind, rec.ID, rec.Attributes)
	if err != nil {
		return nil, err
	}
	if scheme, ok := e.(graph.Scheme); ok && scheme.Eligibility.Rule != "" {
		if err := match.ValidateRule(scheme.Eligibility.Rule); err != nil {
			return nil, apperrors.NewValidation(rec.ID, "eligibility.rule", err.Error())
		}
	}
	return e, nil
}

func resolveEdges(cand *candidate, lookup func(string) (graph.Entity, bool)) ([]graph.Edge, error) {
	edges := make([]graph.Edge, 0, len(cand.record.Edges))
	for _, re := range cand.record.Edges {
		edgeType, err := graph.ParseEdgeType(re.Type)
		if err != nil {
			return nil, apperrors.NewValidation(cand.record.ID, "edges.type", err.Error())
		}
		edge := graph.Edge{Type: edgeType, From: cand.record.ID, To: re.TargetID, Weight: re.Weight}
		target, ok := lookup(re.TargetID)
		if !ok {
			return nil, apperrors.NewDanglingReference(string(edgeType), edge.From, edge.To, edge.To)
		}
		if edgeType == graph.EdgeEligibleFor {
			return nil, apperrors.NewValidation(cand.record.ID, "edges.type", "ELIGIBLE_FOR is computed, not seeded")
		}
		if err := graph.ValidateEdge(edge, cand.entity.EntityKind(), target.EntityKind()); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// Profile returns a startup profile loaded from the seed
func (c *Catalog) Profile(id string) (graph.Startup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	return p, ok
}

// DefaultProfile returns the first startup profile loaded
func (c *Catalog) DefaultProfile() (graph.Startup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return graph.Startup{}, false
	}
	return c.profiles[c.order[0]], true
}

// Profiles returns every startup profile in load order
func (c *Catalog) Profiles() []graph.Startup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]graph.Startup, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.profiles[id])
	}
	return result
}
