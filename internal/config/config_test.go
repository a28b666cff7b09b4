package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "medtriage", cfg.Server.Name)
	assert.Equal(t, 0.3, cfg.Ensemble.VectorWeight)
	assert.Equal(t, 0.4, cfg.Ensemble.GraphWeight)
	assert.Equal(t, 0.5, cfg.Ensemble.LLMWeight)
	assert.Equal(t, 1.2, cfg.Ensemble.AgreementBoost)
	assert.Equal(t, 0.99, cfg.Ensemble.ConfidenceCap)
	assert.Equal(t, 0.35, cfg.Ensemble.AbstentionThreshold)
	assert.True(t, cfg.Ensemble.DefaultRequiresSOS)
}

func TestValidateRejectsBadEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Server.Environment = "sandbox"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsAbstentionThresholdOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.AbstentionThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ensemble.AbstentionThreshold = -0.1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroConfidenceCap(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.ConfidenceCap = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeWeights(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.LLMWeight = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidPromotionConfidence(t *testing.T) {
	cfg := Default()
	cfg.Learning.PromotionMinConfidence = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroRecordWorkers(t *testing.T) {
	cfg := Default()
	cfg.Learning.RecordWorkers = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MEDTRIAGE_SERVER_NAME", "medtriage-staging")
	t.Setenv("MEDTRIAGE_ENSEMBLE_LLM_WEIGHT", "0.75")
	t.Setenv("MEDTRIAGE_LEARNING_PROMOTION_MIN_CONFIDENCE", "0.9")
	t.Setenv("MEDTRIAGE_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "medtriage-staging", cfg.Server.Name)
	assert.Equal(t, 0.75, cfg.Ensemble.LLMWeight)
	assert.Equal(t, 0.9, cfg.Learning.PromotionMinConfidence)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvIgnoresUnparsableNumbers(t *testing.T) {
	t.Setenv("MEDTRIAGE_ENSEMBLE_VECTOR_WEIGHT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Ensemble.VectorWeight, cfg.Ensemble.VectorWeight)
}

func TestSaveAndLoadFromFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Server.Name = "medtriage-roundtrip"
	require.NoError(t, cfg.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "medtriage-roundtrip")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "medtriage-roundtrip", loaded.Server.Name)
}

func TestParseBoolVariants(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("YES"))
	assert.True(t, parseBool("on"))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool(""))
}
