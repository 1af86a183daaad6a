package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/history"
	"dune-rag/backend/internal/retrieval"
	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// StrategyResolver picks the retriever for a strategy key
type StrategyResolver interface {
	Resolve(key string) (retrieval.Retriever, error)
	Default() string
}

// VectorTool answers open-ended questions from passages retrieved with the
// request's retrieval strategy
type VectorTool struct {
	llm        adapter.ChatModel
	strategies StrategyResolver
	history    history.Store
	opts       Options
	logger     *zap.Logger
}

// NewVectorTool creates the vector tool
func NewVectorTool(llm adapter.ChatModel, strategies StrategyResolver, store history.Store, opts Options) *VectorTool {
	return &VectorTool{
		llm:        llm,
		strategies: strategies,
		history:    store,
		opts:       opts,
		logger:     logger.Named("vector_tool"),
	}
}

// Descriptor implements Tool
func (t *VectorTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        ToolVector,
		Description: "Useful Tool for retrieving general open ended information about Dune",
		Parameters:  questionParameters,
	}
}

// Invoke implements Tool
func (t *VectorTool) Invoke(ctx context.Context, in Input) (string, error) {
	strategy := in.Strategy
	if strategy == "" {
		strategy = t.strategies.Default()
	}
	retriever, err := t.strategies.Resolve(strategy)
	if err != nil {
		return "", err
	}

	turns, err := readHistory(ctx, t.history, in, t.opts)
	if err != nil {
		return "", err
	}

	standalone, err := t.condense(ctx, turns, in.Question)
	if err != nil {
		return "", err
	}

	passages, err := retriever.Retrieve(ctx, standalone)
	if err != nil {
		return "", apperrors.NewRetrievalFailed(strategy, err)
	}

	msgs := []adapter.Message{{Role: adapter.RoleSystem, Content: fmt.Sprintf(answerSystemTemplate, contextText(passages))}}
	msgs = append(msgs, historyMessages(turns, false)...)
	msgs = append(msgs, adapter.Message{Role: adapter.RoleUser, Content: in.Question})

	resp, err := t.llm.Complete(ctx, adapter.Request{
		Model:       t.opts.Model,
		Messages:    msgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolVector, "answer generation", err)
	}

	err = appendTurn(ctx, t.history, history.Turn{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Tool:      ToolVector,
		Question:  in.Question,
		Query:     standalone,
		Answer:    resp.Content,
	}, t.opts)
	if err != nil {
		return "", err
	}

	t.logger.Debug("Vector tool answered",
		zap.String("user_id", in.UserID),
		zap.String("session_id", in.SessionID),
		zap.String("strategy", strategy),
		zap.Int("passages", len(passages)),
	)
	return resp.Content, nil
}

// condense rewrites a follow-up into a standalone question. Without history
// the question already stands alone.
func (t *VectorTool) condense(ctx context.Context, turns []history.Turn, question string) (string, error) {
	if len(turns) == 0 {
		return question, nil
	}

	resp, err := t.llm.Complete(ctx, adapter.Request{
		Model: t.opts.Model,
		Messages: []adapter.Message{
			{Role: adapter.RoleUser, Content: fmt.Sprintf(condenseTemplate, chatHistoryText(turns), question)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolVector, "condense question", err)
	}

	standalone := strings.TrimSpace(resp.Content)
	if standalone == "" {
		return question, nil
	}
	return standalone, nil
}
