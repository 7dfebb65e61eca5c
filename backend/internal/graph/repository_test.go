package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRepository requires a running Neo4j instance
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables
func TestRepository_PushPull(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := createTestRepository(t, ctx)
	require.NoError(t, repo.Clear(ctx))
	defer func() { _ = repo.Clear(context.Background()) }()

	require.NoError(t, repo.EnsureConstraints(ctx))

	s := newFixtureStore(t)
	local := s.Snapshot().Dataset()
	require.NoError(t, repo.Push(ctx, local))

	pulled, err := repo.Pull(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, entityIDs(local.Entities), entityIDs(pulled.Entities))
	assert.Len(t, pulled.Edges, len(local.Edges))

	// Pushing twice merges instead of duplicating
	require.NoError(t, repo.Push(ctx, local))
	again, err := repo.Pull(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Entities, len(local.Entities))
	assert.Len(t, again.Edges, len(local.Edges))

	investor, ok := findEntity(again.Entities, "inv-villgro")
	require.True(t, ok)
	assert.Equal(t, []string{"AgriTech"}, investor.(Investor).Sectors)
}

func TestRepository_ConnectUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, "bolt://127.0.0.1:1", "neo4j", "password", "neo4j")
	require.Error(t, err)
}

func createTestRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	uri := envOr("NEO4J_URI", "bolt://localhost:7687")
	user := envOr("NEO4J_USER", "neo4j")
	password := envOr("NEO4J_PASSWORD", "password")

	repo, err := Connect(ctx, uri, user, password, envOr("NEO4J_DATABASE", "neo4j"))
	if err != nil {
		t.Skipf("Neo4j not reachable at %s: %v", uri, err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func entityIDs(entities []Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.EntityID())
	}
	return ids
}

func findEntity(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.EntityID() == id {
			return e, true
		}
	}
	return nil, false
}
