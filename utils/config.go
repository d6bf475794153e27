package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	OpenAI   OpenAIConfig
	Collect  CollectConfig
	Pipeline PipelineConfig
	Store    StoreConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// OpenAIConfig holds the language-model client configuration
type OpenAIConfig struct {
	APIKey            string
	APIURL            string
	Model             string
	RequestsPerMinute int
}

// CollectConfig holds collector configuration
type CollectConfig struct {
	Keywords     []string // search keywords for the X collector
	Hashtags     []string // note.com hashtags
	XBearerToken string
	MaxResults   int
}

// PipelineConfig holds pipeline scheduling configuration
type PipelineConfig struct {
	IntervalSeconds       int
	ExtractionConcurrency int
}

// StoreConfig holds event store configuration; Backend is "sqlite" or "supabase"
type StoreConfig struct {
	Backend     string
	SQLitePath  string
	SupabaseURL string
	SupabaseKey string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int
}

// LoadConfig loads configuration from .env file
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Recovery Insight"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		OpenAI: OpenAIConfig{
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			APIURL:            getEnv("OPENAI_API_URL", "https://api.openai.com/v1"),
			Model:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			RequestsPerMinute: getEnvAsInt("OPENAI_MAX_REQUESTS_PER_MINUTE", 60),
		},
		Collect: CollectConfig{
			Keywords:     parseList(getEnv("COLLECT_KEYWORDS", "うつ 治った")),
			Hashtags:     parseList(getEnv("COLLECT_HASHTAGS", "#うつ回復")),
			XBearerToken: getEnv("X_BEARER_TOKEN", ""),
			MaxResults:   getEnvAsInt("COLLECT_MAX_RESULTS", 50),
		},
		Pipeline: PipelineConfig{
			IntervalSeconds:       getEnvAsInt("PIPELINE_INTERVAL", 300),
			ExtractionConcurrency: getEnvAsInt("EXTRACTION_CONCURRENCY", 4),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("DATABASE_PATH", "./recovery.db"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
	}

	// validation
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// parseList parses a comma-separated list, dropping empty entries
func parseList(raw string) []string {
	parts := strings.Split(raw, ",")

	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}

	return values
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	if config.OpenAI.Model == "" {
		return fmt.Errorf("OPENAI_MODEL must not be empty")
	}
	if config.Pipeline.IntervalSeconds < 1 {
		return fmt.Errorf("PIPELINE_INTERVAL must be positive")
	}
	if config.Pipeline.ExtractionConcurrency < 1 {
		return fmt.Errorf("EXTRACTION_CONCURRENCY must be positive")
	}

	switch config.Store.Backend {
	case "sqlite":
		// if we are storing the db in a nested directory, create the directory
		dbDir := filepath.Dir(config.Store.SQLitePath)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case "supabase":
		if config.Store.SupabaseURL == "" || config.Store.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or supabase, got %q", config.Store.Backend)
	}

	if len(config.Collect.Keywords) == 0 && len(config.Collect.Hashtags) == 0 {
		return fmt.Errorf("at least one of COLLECT_KEYWORDS or COLLECT_HASHTAGS is required")
	}

	return nil
}
