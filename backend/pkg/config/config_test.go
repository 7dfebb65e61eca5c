package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("RETRIEVAL_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.HasNeo4j())
	assert.Equal(t, 0.4, cfg.WeightSector)
	assert.Equal(t, 0.35, cfg.WeightStage)
	assert.Equal(t, 0.25, cfg.WeightLocation)
	assert.Equal(t, 2*time.Second, cfg.RetrievalTimeout)
	assert.Equal(t, time.Second, cfg.SyncBackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.SyncBackoffMax)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://graph:7687")
	t.Setenv("MATCH_WEIGHT_SECTOR", "0.5")
	t.Setenv("RETRIEVAL_TIMEOUT", "750ms")
	t.Setenv("SYNC_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasNeo4j())
	assert.Equal(t, 0.5, cfg.WeightSector)
	assert.Equal(t, 750*time.Millisecond, cfg.RetrievalTimeout)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	cfg := &Config{
		Port:               "8080",
		WeightSector:       -1,
		RetrievalTopK:      5,
		RetrievalTimeout:   time.Second,
		SyncBackoffInitial: time.Second,
		SyncBackoffMax:     time.Second,
	}
	assert.Error(t, cfg.Validate())

	cfg.WeightSector = 0
	assert.Error(t, cfg.Validate(), "all-zero weights")

	cfg.WeightStage = 1
	assert.NoError(t, cfg.Validate())
}
