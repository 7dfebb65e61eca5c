package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundgraph/backend/internal/adapter"
	"fundgraph/backend/internal/advisor"
	"fundgraph/backend/internal/api"
	"fundgraph/backend/internal/catalog"
	"fundgraph/backend/internal/graph"
	"fundgraph/backend/internal/graphsync"
	"fundgraph/backend/internal/match"
	"fundgraph/backend/internal/retrieval"
	"fundgraph/backend/pkg/config"
	"fundgraph/backend/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting FundGraph API server...")

	ctx := context.Background()
	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer app.Close()

	if app.coordinator != nil {
		app.coordinator.Start(cfg.SyncInterval)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: app.server.Handler(),
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// app holds the wired components of a running server
type app struct {
	store       *graph.Store
	catalog     *catalog.Catalog
	repo        *graph.Repository
	coordinator *graphsync.Coordinator
	server      *api.Server
}

// buildApp loads the catalog and wires the services. Neo4j and the LLM are
// optional: without them the graph stays in memory and chat answers come
// from templates.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Get()

	store := graph.NewStore()
	cat := catalog.New(store)
	summary, err := cat.LoadFile(ctx, cfg.SeedPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	for _, recErr := range summary.Errors {
		log.Warn("Rejected seed record", zap.Error(recErr))
	}
	log.Info("Catalog loaded",
		zap.Int("accepted", summary.Accepted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("profiles", len(cat.Profiles())),
	)

	weights, err := match.LoadWeights(cfg.MatchWeightsFile, match.Weights{
		Sector:   cfg.WeightSector,
		Stage:    cfg.WeightStage,
		Location: cfg.WeightLocation,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	engine := match.NewEngine(store, match.WithWeights(weights))

	retriever := retrieval.NewService(store,
		retrieval.WithDepth(cfg.RetrievalDepth),
		retrieval.WithTimeout(cfg.RetrievalTimeout),
	)

	advisorOpts := []advisor.Option{
		advisor.WithChatK(cfg.RetrievalTopK),
		advisor.WithTopK(cfg.DashboardTopK),
	}
	if cfg.HasLLM() {
		llm := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.OpenRouterAPIKey, cfg.ModelID)
		advisorOpts = append(advisorOpts, advisor.WithGenerator(llm))
		log.Info("LLM answers enabled", zap.String("model", llm.Model()))
	} else {
		log.Info("No LLM configured, chat answers use templates")
	}
	adv := advisor.New(store, engine, retriever, advisorOpts...)

	a := &app{store: store, catalog: cat}

	deps := api.Deps{Store: store, Catalog: cat, Matcher: engine, Advisor: adv}
	if cfg.HasNeo4j() {
		repo, err := graph.Open(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
		}
		// An unreachable database is not fatal; the coordinator retries
		if err := repo.Ping(ctx); err != nil {
			log.Warn("Neo4j unavailable at startup, serving the in-memory graph", zap.Error(err))
		} else if err := repo.EnsureConstraints(ctx); err != nil {
			log.Warn("Failed to create constraints (may already exist)", zap.Error(err))
		}
		a.repo = repo
		a.coordinator = graphsync.NewCoordinator(store, repo, graphsync.WithBackoff(graphsync.Backoff{
			Initial: cfg.SyncBackoffInitial,
			Max:     cfg.SyncBackoffMax,
		}))
		deps.Syncer = a.coordinator
	} else {
		log.Info("No NEO4J_URI set, graph sync disabled")
	}

	a.server = api.NewServer(deps, api.Options{
		ChatRatePerSecond: cfg.ChatRatePerSecond,
		ChatBurst:         cfg.ChatBurst,
		Release:           cfg.IsProduction(),
	})
	return a, nil
}

// Close stops sync and releases the graph and the database driver
func (a *app) Close() {
	log := logger.Get()
	if a.coordinator != nil {
		if err := a.coordinator.Close(); err != nil {
			log.Error("Failed to stop graph sync", zap.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			log.Error("Failed to close Neo4j driver", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		log.Error("Failed to close graph store", zap.Error(err))
	}
}
