package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"fundgraph/backend/internal/catalog"
	"fundgraph/backend/internal/graph"
	"fundgraph/backend/pkg/config"
	"fundgraph/backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	seedPath := flag.String("seed", "", "Seed JSON file (default: embedded seed data)")
	reset := flag.Bool("reset", false, "Delete every entity in Neo4j before seeding")
	dryRun := flag.Bool("dry-run", false, "Validate the seed file without writing to Neo4j")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Validate the seed first; a broken file never reaches the database
	store := graph.NewStore()
	defer store.Close()
	path := *seedPath
	if path == "" {
		path = os.Getenv("SEED_PATH")
	}
	summary, err := catalog.New(store).LoadFile(ctx, path)
	if err != nil {
		log.Fatal("Failed to load seed data", zap.Error(err))
	}
	for _, recErr := range summary.Errors {
		log.Warn("Rejected seed record", zap.Error(recErr))
	}
	snap := store.Snapshot()
	log.Info("Seed data validated",
		zap.Int("accepted", summary.Accepted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("entities", snap.Len()),
		zap.Int("relationships", snap.EdgeCount()),
	)
	if *dryRun {
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if !cfg.HasNeo4j() {
		log.Fatal("NEO4J_URI is required to seed the database")
	}

	repo, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer repo.Close()

	// Create constraints
	log.Info("Creating constraints...")
	if err := repo.EnsureConstraints(ctx); err != nil {
		log.Warn("Failed to create constraints (may already exist)", zap.Error(err))
	}

	if *reset {
		log.Warn("Resetting knowledge graph")
		if err := repo.Clear(ctx); err != nil {
			log.Fatal("Failed to clear Neo4j", zap.Error(err))
		}
	}

	if err := repo.Push(ctx, snap.Dataset()); err != nil {
		log.Fatal("Failed to push seed data", zap.Error(err))
	}

	// Read back to confirm what the server will pull
	ds, err := repo.Pull(ctx)
	if err != nil {
		log.Fatal("Failed to verify seed data", zap.Error(err))
	}
	log.Info("Database seeding completed",
		zap.Int("entities", len(ds.Entities)),
		zap.Int("relationships", len(ds.Edges)),
	)
}
