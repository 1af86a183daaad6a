package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dune-rag/backend/internal/agent"
	apperrors "dune-rag/backend/pkg/errors"
)

// chainInput is one question with its conversation identity
type chainInput struct {
	Input     string `json:"input" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

type configurable struct {
	Strategy string `json:"strategy"`
}

type runConfig struct {
	Configurable configurable `json:"configurable"`
}

type invokeRequest struct {
	Input  chainInput `json:"input"`
	Config runConfig  `json:"config"`
}

type batchRequest struct {
	Inputs []chainInput `json:"inputs" binding:"required,min=1,dive"`
	Config runConfig    `json:"config"`
}

type runMetadata struct {
	RunID string `json:"run_id"`
	Tool  string `json:"tool,omitempty"`
}

type invokeResponse struct {
	Output   string      `json:"output"`
	Metadata runMetadata `json:"metadata"`
}

type batchResponse struct {
	Output   []string      `json:"output"`
	Metadata []runMetadata `json:"metadata"`
}

func (s *server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default":    s.strategies.Default(),
		"strategies": s.strategies.Keys(),
	})
}

func (s *server) handleInvoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
		return
	}
	if err := s.checkStrategy(req.Config.Configurable.Strategy); err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	meta, output, err := s.run(ctx, req.Input, req.Config)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, invokeResponse{Output: output, Metadata: meta})
}

// handleBatch answers every input concurrently. One failure fails the whole
// batch and no partial outputs are returned.
func (s *server) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
		return
	}
	if err := s.checkStrategy(req.Config.Configurable.Strategy); err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	outputs := make([]string, len(req.Inputs))
	metas := make([]runMetadata, len(req.Inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.BatchLimit)
	for i, in := range req.Inputs {
		i, in := i, in
		g.Go(func() error {
			meta, output, err := s.run(gctx, in, req.Config)
			if err != nil {
				return err
			}
			outputs[i] = output
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, batchResponse{Output: outputs, Metadata: metas})
}

func (s *server) run(ctx context.Context, in chainInput, cfg runConfig) (runMetadata, string, error) {
	meta := runMetadata{RunID: uuid.NewString()}
	start := time.Now()

	result, err := s.agent.RunTurn(ctx, agent.Input{
		Text:      in.Input,
		UserID:    in.UserID,
		SessionID: in.SessionID,
	}, agent.Options{Strategy: cfg.Configurable.Strategy})

	tool := ""
	if result != nil {
		tool = result.Tool
	}
	if s.metrics != nil {
		s.metrics.RecordTurn(tool, err, time.Since(start))
	}
	if err != nil {
		return meta, "", err
	}

	meta.Tool = result.Tool
	s.logger.Info("Turn answered",
		zap.String("run_id", meta.RunID),
		zap.String("user_id", in.UserID),
		zap.String("session_id", in.SessionID),
		zap.String("tool", result.Tool),
		zap.Duration("duration", time.Since(start)),
	)
	return meta, result.Output, nil
}

// checkStrategy rejects unknown strategy keys before any model call, even for
// questions the agent would answer without retrieval.
func (s *server) checkStrategy(key string) error {
	if key == "" {
		return nil
	}
	for _, k := range s.strategies.Keys() {
		if k == key {
			return nil
		}
	}
	return apperrors.NewUnknownStrategy(key)
}

func (s *server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.settings.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), s.settings.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (s *server) fail(c *gin.Context, err error) {
	status, kind := statusFor(err)
	_ = c.Error(err)
	if apperrors.IsRetryable(err) {
		c.Header("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("kind", kind), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
