package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	apperrors "dune-rag/backend/pkg/errors"
)

// History backends
const (
	HistoryNeo4j  = "neo4j"
	HistoryRedis  = "redis"
	HistorySQL    = "sql"
	HistoryMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string `env:"PORT" envDefault:"8000"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	// Neo4j
	Neo4jURI      string `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	Neo4jUser     string `env:"NEO4J_USERNAME" envDefault:"neo4j"`
	Neo4jPassword string `env:"NEO4J_PASSWORD" envDefault:"password"`
	Neo4jDatabase string `env:"NEO4J_DATABASE"`

	// AI
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AgentModel     string `env:"AGENT_MODEL" envDefault:"gpt-3.5-turbo"`
	CypherModel    string `env:"CYPHER_MODEL" envDefault:"gpt-4"`
	QAModel        string `env:"QA_MODEL" envDefault:"gpt-3.5-turbo"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-ada-002"`
	LLMMaxRetries  int    `env:"LLM_MAX_RETRIES" envDefault:"3"`

	// History
	HistoryBackend string `env:"HISTORY_BACKEND" envDefault:"neo4j"`
	HistoryWindow  int    `env:"HISTORY_WINDOW" envDefault:"0"` // 0 keeps the full history in prompts
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"dune-rag:"`
	SQLDriver      string `env:"SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN         string `env:"SQL_DSN" envDefault:"history.db"`

	// Retrieval
	DefaultStrategy string        `env:"DEFAULT_STRATEGY" envDefault:"typical_rag"`
	RetrievalTopK   int           `env:"RETRIEVAL_TOP_K" envDefault:"4"`
	GraphMaxRows    int           `env:"GRAPH_MAX_ROWS" envDefault:"10"`
	SchemaTTL       time.Duration `env:"SCHEMA_TTL" envDefault:"5m"` // 0 re-reads the schema for every graph question

	// Timeouts
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"15s"`

	// API
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
	BatchLimit     int     `env:"BATCH_CONCURRENCY" envDefault:"4"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_USERNAME")
	}
	if c.Neo4jPassword == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.OpenAIBaseURL == "" {
		return apperrors.NewConfigMissingRequired("OPENAI_BASE_URL")
	}
	if c.AgentModel == "" || c.CypherModel == "" || c.QAModel == "" {
		return apperrors.NewConfigMissingRequired("AGENT_MODEL/CYPHER_MODEL/QA_MODEL")
	}
	if c.EmbeddingModel == "" {
		return apperrors.NewConfigMissingRequired("EMBEDDING_MODEL")
	}

	switch c.HistoryBackend {
	case HistoryNeo4j, HistoryMemory:
	case HistoryRedis:
		if c.RedisAddr == "" {
			return apperrors.NewConfigMissingRequired("REDIS_ADDR")
		}
	case HistorySQL:
		if c.SQLDriver != "sqlite" && c.SQLDriver != "postgres" {
			return apperrors.NewConfigValidationFailed("SQL_DRIVER", "must be sqlite or postgres")
		}
		if c.SQLDSN == "" {
			return apperrors.NewConfigMissingRequired("SQL_DSN")
		}
	default:
		return apperrors.NewConfigValidationFailed("HISTORY_BACKEND", fmt.Sprintf("unsupported backend %q", c.HistoryBackend))
	}

	if c.HistoryWindow < 0 {
		return apperrors.NewConfigValidationFailed("HISTORY_WINDOW", "must be >= 0")
	}
	if c.RetrievalTopK < 1 {
		return apperrors.NewConfigValidationFailed("RETRIEVAL_TOP_K", "must be >= 1")
	}
	if c.LLMMaxRetries < 1 {
		return apperrors.NewConfigValidationFailed("LLM_MAX_RETRIES", "must be >= 1")
	}
	if c.BatchLimit < 1 {
		return apperrors.NewConfigValidationFailed("BATCH_CONCURRENCY", "must be >= 1")
	}
	// OpenAI API key is optional for local OpenAI-compatible gateways
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
