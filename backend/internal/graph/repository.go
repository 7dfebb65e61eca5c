package graph

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// kindLabels are the secondary node labels written next to :Entity
var kindLabels = map[Kind]string{
	KindInvestor:    "Investor",
	KindScheme:      "Scheme",
	KindOpportunity: "Opportunity",
	KindSector:      "Sector",
	KindStage:       "Stage",
	KindLocation:    "Location",
}

// Repository is the durable copy of the knowledge graph in Neo4j. Every
// entity is a node labelled :Entity plus its kind label, carrying its id,
// kind, name and JSON attributes; edges are relationships of the same type.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	uri      string
	logger   *zap.Logger
}

// NewRepository creates a repository over an existing driver
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("neo4j"),
	}
}

// Open creates a driver without contacting the database. The driver
// connects lazily, so an unreachable server surfaces on first use.
func Open(uri, user, password, database string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(uri, err)
	}
	repo := NewRepository(driver, database)
	repo.uri = uri
	return repo, nil
}

// Connect opens a driver and verifies connectivity
func Connect(ctx context.Context, uri, user, password, database string) (*Repository, error) {
	repo, err := Open(uri, user, password, database)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return apperrors.NewStoreUnavailable(r.uri, err)
	}
	return nil
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

// wrap classifies a driver error as an outage or a failed query
func (r *Repository) wrap(query string, err error) error {
	if neo4j.IsConnectivityError(err) {
		return apperrors.NewStoreUnavailable(r.uri, err)
	}
	return apperrors.NewStoreQueryFailed(query, err)
}

// EnsureConstraints creates the id uniqueness constraint
func (r *Repository) EnsureConstraints(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE`
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return r.wrap("ensure constraints", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return r.wrap("ensure constraints", err)
	}
	return nil
}

// Pull reads every entity and edge. Nodes whose payload no longer decodes
// are skipped with a warning, as are edges of unknown type.
func (r *Repository) Pull(ctx context.Context) (*Dataset, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	ds := &Dataset{}

	nodeQuery := `
		MATCH (n:Entity)
		RETURN n.id AS id, n.kind AS kind, n.payload AS payload
		ORDER BY n.id
	`
	result, err := session.Run(ctx, nodeQuery, nil)
	if err != nil {
		return nil, r.wrap("pull entities", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		id := getStringFromRecord(record, "id")
		kind, err := ParseKind(getStringFromRecord(record, "kind"))
		if err != nil || kind == KindStartup {
			r.logger.Warn("Skipping node with unknown kind", zap.String("id", id), zap.Error(err))
			continue
		}
		e, err := DecodeEntity(kind, id, json.RawMessage(getStringFromRecord(record, "payload")))
		if err != nil {
			r.logger.Warn("Skipping undecodable node", zap.String("id", id), zap.Error(err))
			continue
		}
		ds.Entities = append(ds.Entities, e)
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap("pull entities", err)
	}

	edgeQuery := `
		MATCH (a:Entity)-[rel]->(b:Entity)
		RETURN type(rel) AS type, a.id AS from, b.id AS to, rel.weight AS weight
		ORDER BY type, from, to
	`
	result, err = session.Run(ctx, edgeQuery, nil)
	if err != nil {
		return nil, r.wrap("pull edges", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		edgeType, err := ParseEdgeType(getStringFromRecord(record, "type"))
		if err != nil {
			continue
		}
		ds.Edges = append(ds.Edges, Edge{
			Type:   edgeType,
			From:   getStringFromRecord(record, "from"),
			To:     getStringFromRecord(record, "to"),
			Weight: getFloat64FromRecord(record, "weight"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, r.wrap("pull edges", err)
	}

	r.logger.Debug("Pulled graph from Neo4j",
		zap.Int("entities", len(ds.Entities)),
		zap.Int("edges", len(ds.Edges)),
	)
	return ds, nil
}

// Push merges a dataset into the database. Node kinds are written in
// parallel, then edge types in parallel. Nothing is deleted.
func (r *Repository) Push(ctx context.Context, ds *Dataset) error {
	nodes := map[Kind][]map[string]any{}
	for _, e := range ds.Entities {
		if _, ok := kindLabels[e.EntityKind()]; !ok {
			continue
		}
		payload, err := EncodeAttributes(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", e.EntityID(), err)
		}
		nodes[e.EntityKind()] = append(nodes[e.EntityKind()], map[string]any{
			"id":      e.EntityID(),
			"kind":    string(e.EntityKind()),
			"name":    e.DisplayName(),
			"payload": string(payload),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for kind, rows := range nodes {
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MERGE (n:Entity {id: row.id})
			SET n:%s, n.kind = row.kind, n.name = row.name, n.payload = row.payload
		`, kindLabels[kind])
		g.Go(func() error {
			return r.write(gctx, "push "+string(kind), query, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rels := map[EdgeType][]map[string]any{}
	for _, e := range ds.Edges {
		if e.Type == EdgeEligibleFor {
			continue
		}
		rels[e.Type] = append(rels[e.Type], map[string]any{
			"from":   e.From,
			"to":     e.To,
			"weight": e.Weight,
		})
	}

	g, gctx = errgroup.WithContext(ctx)
	for edgeType, rows := range rels {
		// Relationship types come from the closed EdgeType set, never from input
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MATCH (a:Entity {id: row.from}), (b:Entity {id: row.to})
			MERGE (a)-[rel:%s]->(b)
			SET rel.weight = row.weight
		`, edgeType)
		g.Go(func() error {
			return r.write(gctx, "push "+string(edgeType), query, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.Info("Pushed graph to Neo4j",
		zap.Int("entities", len(ds.Entities)),
		zap.Int("edges", len(ds.Edges)),
	)
	return nil
}

// Clear removes every entity node and its relationships
func (r *Repository) Clear(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (n:Entity) DETACH DELETE n`, nil)
	if err != nil {
		return r.wrap("clear", err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return r.wrap("clear", err)
	}
	r.logger.Info("Cleared graph",
		zap.Int("nodes_deleted", summary.Counters().NodesDeleted()),
	)
	return nil
}

func (r *Repository) write(ctx context.Context, name, query string, rows []map[string]any) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"rows": rows})
	if err != nil {
		return r.wrap(name, err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return r.wrap(name, err)
	}
	return nil
}
