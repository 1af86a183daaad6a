package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dune-rag/backend/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "gpt-4", cfg.CypherModel)
	assert.Equal(t, "typical_rag", cfg.DefaultStrategy)
	assert.Equal(t, 4, cfg.RetrievalTopK)
	assert.Equal(t, 5*time.Minute, cfg.SchemaTTL)
	assert.Equal(t, 0, cfg.HistoryWindow)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("STORE_TIMEOUT", "3s")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, HistoryRedis, cfg.HistoryBackend)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.IsProduction())
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "mongo")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
}

func TestValidate_SQLDriver(t *testing.T) {
	cfg := validConfig()
	cfg.HistoryBackend = HistorySQL
	cfg.SQLDriver = "oracle"

	err := cfg.Validate()
	require.Error(t, err)

	cfg.SQLDriver = "postgres"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingNeo4jURI(t *testing.T) {
	cfg := validConfig()
	cfg.Neo4jURI = ""

	err := cfg.Validate()
	var missing *apperrors.ErrConfigMissingRequired
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "NEO4J_URI", missing.Field)
}

func validConfig() *Config {
	return &Config{
		Neo4jURI:        "bolt://localhost:7687",
		Neo4jUser:       "neo4j",
		Neo4jPassword:   "password",
		OpenAIBaseURL:   "http://localhost:4000/v1",
		AgentModel:      "gpt-3.5-turbo",
		CypherModel:     "gpt-4",
		QAModel:         "gpt-3.5-turbo",
		EmbeddingModel:  "text-embedding-ada-002",
		HistoryBackend:  HistoryMemory,
		RetrievalTopK:   4,
		LLMMaxRetries:   3,
		BatchLimit:      4,
		SQLDSN:          "history.db",
		DefaultStrategy: "typical_rag",
	}
}
