package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dune-rag/backend/internal/agent"
	"dune-rag/backend/internal/metrics"
)

// BasePath is the mount point of the QA chain
const BasePath = "/neo4j-advanced-rag"

// Agent answers a single turn
type Agent interface {
	RunTurn(ctx context.Context, in agent.Input, opts agent.Options) (*agent.TurnResult, error)
}

// Strategies lists the retrieval strategies a request may select
type Strategies interface {
	Keys() []string
	Default() string
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Settings holds the HTTP-level limits
type Settings struct {
	RequestTimeout time.Duration
	BatchLimit     int
	RateLimitRPS   float64
	RateLimitBurst int
}

// Deps are the collaborators the router serves
type Deps struct {
	Agent      Agent
	Strategies Strategies
	Metrics    *metrics.Collector
	Health     HealthCheck // optional
	Logger     *zap.Logger
	Settings   Settings
}

type server struct {
	agent      Agent
	strategies Strategies
	metrics    *metrics.Collector
	health     HealthCheck
	logger     *zap.Logger
	settings   Settings
}

// NewRouter builds the gin engine with all routes and middleware
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Settings.BatchLimit < 1 {
		deps.Settings.BatchLimit = 1
	}

	s := &server{
		agent:      deps.Agent,
		strategies: deps.Strategies,
		metrics:    deps.Metrics,
		health:     deps.Health,
		logger:     log,
		settings:   deps.Settings,
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors())
	if s.metrics != nil {
		router.Use(instrument(s.metrics))
	}

	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	chain := router.Group(BasePath)
	if deps.Settings.RateLimitRPS > 0 {
		chain.Use(newRateLimiter(deps.Settings.RateLimitRPS, deps.Settings.RateLimitBurst).middleware())
	}
	chain.POST("/invoke", s.handleInvoke)
	chain.POST("/batch", s.handleBatch)
	chain.GET("/strategies", s.handleStrategies)

	return router
}
