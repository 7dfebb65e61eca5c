package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j (optional; empty URI keeps the graph purely in memory)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Catalog
	SeedPath string // Empty means the embedded seed data set

	// Matching
	MatchWeightsFile string // Optional YAML file with sector/stage/location weights
	WeightSector     float64
	WeightStage      float64
	WeightLocation   float64
	DashboardTopK    int

	// Retrieval
	RetrievalTopK    int
	RetrievalTimeout time.Duration
	RetrievalDepth   int

	// Sync
	SyncInterval       time.Duration
	SyncBackoffInitial time.Duration
	SyncBackoffMax     time.Duration

	// AI
	LiteLLMURL       string
	ModelID          string
	OpenRouterAPIKey string

	// HTTP
	ChatRatePerSecond float64
	ChatBurst         int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		Neo4jURI:           getEnv("NEO4J_URI", ""),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:      getEnv("NEO4J_DATABASE", "neo4j"),
		SeedPath:           getEnv("SEED_PATH", ""),
		MatchWeightsFile:   getEnv("MATCH_WEIGHTS_FILE", ""),
		WeightSector:       getEnvFloat("MATCH_WEIGHT_SECTOR", 0.4),
		WeightStage:        getEnvFloat("MATCH_WEIGHT_STAGE", 0.35),
		WeightLocation:     getEnvFloat("MATCH_WEIGHT_LOCATION", 0.25),
		DashboardTopK:      getEnvInt("DASHBOARD_TOP_K", 5),
		RetrievalTopK:      getEnvInt("RETRIEVAL_TOP_K", 5),
		RetrievalTimeout:   getEnvDuration("RETRIEVAL_TIMEOUT", 2*time.Second),
		RetrievalDepth:     getEnvInt("RETRIEVAL_DEPTH", 2),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncBackoffInitial: getEnvDuration("SYNC_BACKOFF_INITIAL", time.Second),
		SyncBackoffMax:     getEnvDuration("SYNC_BACKOFF_MAX", 30*time.Second),
		LiteLLMURL:         getEnv("LITELLM_URL", ""),
		ModelID:            getEnv("MODEL_ID", "openrouter/google/gemini-flash-1.5"),
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		ChatRatePerSecond:  getEnvFloat("CHAT_RATE_PER_SECOND", 5),
		ChatBurst:          getEnvInt("CHAT_BURST", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.HasNeo4j() && c.Neo4jUser == "" {
		return fmt.Errorf("NEO4J_USER is required when NEO4J_URI is set")
	}
	if c.WeightSector < 0 || c.WeightStage < 0 || c.WeightLocation < 0 {
		return fmt.Errorf("match weights must be non-negative")
	}
	if c.WeightSector+c.WeightStage+c.WeightLocation == 0 {
		return fmt.Errorf("at least one match weight must be positive")
	}
	if c.RetrievalTopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be at least 1")
	}
	if c.RetrievalTimeout <= 0 {
		return fmt.Errorf("RETRIEVAL_TIMEOUT must be positive")
	}
	if c.SyncBackoffInitial <= 0 || c.SyncBackoffMax < c.SyncBackoffInitial {
		return fmt.Errorf("SYNC_BACKOFF_INITIAL must be positive and not exceed SYNC_BACKOFF_MAX")
	}
	// LLM settings are optional: chat falls back to template answers
	return nil
}

// HasNeo4j reports whether a durable graph store is configured
func (c *Config) HasNeo4j() bool {
	return strings.TrimSpace(c.Neo4jURI) != ""
}

// HasLLM reports whether an LLM endpoint is configured
func (c *Config) HasLLM() bool {
	return c.LiteLLMURL != "" && c.ModelID != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
