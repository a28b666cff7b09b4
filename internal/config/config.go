// Package config provides configuration management for the triage classifier.
//
// Configuration can be loaded from multiple sources (in order of precedence):
// 1. Environment variables (highest priority)
// 2. Configuration file (JSON)
// 3. Default values (lowest priority)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the complete classifier configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Ensemble EnsembleConfig `json:"ensemble"`
	LLM      LLMConfig      `json:"llm"`
	Learning LearningConfig `json:"learning"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains process-level identification.
type ServerConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // development, staging, production
}

// StorageConfig contains persistence-layer configuration.
type StorageConfig struct {
	SQLitePath       string `json:"sqlite_path"`
	SQLiteTimeoutMs  int    `json:"sqlite_timeout_ms"`
	VectorStorePath  string `json:"vector_store_path"` // empty = in-memory only
}

// EnsembleConfig exposes the ensemble decider's tunable constants (C6).
type EnsembleConfig struct {
	VectorWeight         float64 `json:"vector_weight"`
	GraphWeight          float64 `json:"graph_weight"`
	LLMWeight            float64 `json:"llm_weight"`
	AgreementBoost       float64 `json:"agreement_boost"`
	ConfidenceCap        float64 `json:"confidence_cap"`
	AbstentionThreshold  float64 `json:"abstention_threshold"`
	DefaultRequiresSOS   bool    `json:"default_requires_sos"`
}

// LLMConfig configures the C5 LLM adapter and its circuit breaker.
type LLMConfig struct {
	Model              string `json:"model"`
	APIKeyEnv          string `json:"api_key_env"`
	TimeoutMs          int    `json:"timeout_ms"`
	BreakerMaxFailures uint32 `json:"breaker_max_failures"`
}

// LearningConfig controls the C7 promotion/background-worker behavior.
type LearningConfig struct {
	PromotionMinConfidence float64 `json:"promotion_min_confidence"`
	PromotionMaxPerRun     int     `json:"promotion_max_per_run"`
	RecordWorkers          int     `json:"record_workers"`
	RecordQueueDepth       int     `json:"record_queue_depth"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level            string `json:"level"`
	Format           string `json:"format"`
	EnableTimestamps bool   `json:"enable_timestamps"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "medtriage",
			Version:     "1.0.0",
			Environment: "development",
		},
		Storage: StorageConfig{
			SQLitePath:      "./data/medtriage.db",
			SQLiteTimeoutMs: 5000,
			VectorStorePath: "./data/corpus",
		},
		Ensemble: EnsembleConfig{
			VectorWeight:        0.3,
			GraphWeight:         0.4,
			LLMWeight:           0.5,
			AgreementBoost:      1.2,
			ConfidenceCap:       0.99,
			AbstentionThreshold: 0.35,
			DefaultRequiresSOS:  true,
		},
		LLM: LLMConfig{
			Model:              "claude-sonnet-4-5-20250929",
			APIKeyEnv:          "ANTHROPIC_API_KEY",
			TimeoutMs:          8000,
			BreakerMaxFailures: 5,
		},
		Learning: LearningConfig{
			PromotionMinConfidence: 0.8,
			PromotionMaxPerRun:     100,
			RecordWorkers:          2,
			RecordQueueDepth:       256,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "text",
			EnableTimestamps: true,
		},
	}
}

// Load loads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file, then overlays env vars.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv loads configuration from environment variables.
// Environment variables follow the pattern: MEDTRIAGE_<SECTION>_<KEY>
// Example: MEDTRIAGE_SERVER_NAME, MEDTRIAGE_ENSEMBLE_LLM_WEIGHT
func (c *Config) loadFromEnv() error {
	if v := os.Getenv("MEDTRIAGE_SERVER_NAME"); v != "" {
		c.Server.Name = v
	}
	if v := os.Getenv("MEDTRIAGE_SERVER_ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}

	if v := os.Getenv("MEDTRIAGE_STORAGE_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("MEDTRIAGE_STORAGE_SQLITE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.SQLiteTimeoutMs = n
		}
	}
	if v := os.Getenv("MEDTRIAGE_STORAGE_VECTOR_STORE_PATH"); v != "" {
		c.Storage.VectorStorePath = v
	}

	if v := os.Getenv("MEDTRIAGE_ENSEMBLE_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ensemble.VectorWeight = f
		}
	}
	if v := os.Getenv("MEDTRIAGE_ENSEMBLE_GRAPH_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ensemble.GraphWeight = f
		}
	}
	if v := os.Getenv("MEDTRIAGE_ENSEMBLE_LLM_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ensemble.LLMWeight = f
		}
	}
	if v := os.Getenv("MEDTRIAGE_ENSEMBLE_ABSTENTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ensemble.AbstentionThreshold = f
		}
	}

	if v := os.Getenv("MEDTRIAGE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("MEDTRIAGE_LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.TimeoutMs = n
		}
	}

	if v := os.Getenv("MEDTRIAGE_LEARNING_PROMOTION_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Learning.PromotionMinConfidence = f
		}
	}
	if v := os.Getenv("MEDTRIAGE_LEARNING_PROMOTION_MAX_PER_RUN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Learning.PromotionMaxPerRun = n
		}
	}

	if v := os.Getenv("MEDTRIAGE_LOGGING_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MEDTRIAGE_LOGGING_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("MEDTRIAGE_LOGGING_ENABLE_TIMESTAMPS"); v != "" {
		c.Logging.EnableTimestamps = parseBool(v)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name cannot be empty")
	}
	if c.Server.Environment != "development" && c.Server.Environment != "staging" && c.Server.Environment != "production" {
		return fmt.Errorf("server.environment must be one of: development, staging, production")
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path cannot be empty")
	}
	if c.Storage.SQLiteTimeoutMs <= 0 {
		return fmt.Errorf("storage.sqlite_timeout_ms must be > 0")
	}

	if c.Ensemble.VectorWeight < 0 || c.Ensemble.GraphWeight < 0 || c.Ensemble.LLMWeight < 0 {
		return fmt.Errorf("ensemble weights cannot be negative")
	}
	if c.Ensemble.AbstentionThreshold < 0 || c.Ensemble.AbstentionThreshold > 1 {
		return fmt.Errorf("ensemble.abstention_threshold must be in [0,1]")
	}
	if c.Ensemble.ConfidenceCap <= 0 || c.Ensemble.ConfidenceCap > 1 {
		return fmt.Errorf("ensemble.confidence_cap must be in (0,1]")
	}

	if c.Learning.PromotionMinConfidence < 0 || c.Learning.PromotionMinConfidence > 1 {
		return fmt.Errorf("learning.promotion_min_confidence must be in [0,1]")
	}
	if c.Learning.PromotionMaxPerRun < 0 {
		return fmt.Errorf("learning.promotion_max_per_run cannot be negative")
	}
	if c.Learning.RecordWorkers < 1 {
		return fmt.Errorf("learning.record_workers must be >= 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}

	return nil
}

// parseBool parses a boolean from string (handles various formats).
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on" || s == "enabled"
}

// ToJSON serializes the configuration to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
