package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/cypher"
	"dune-rag/backend/internal/graph"
	"dune-rag/backend/internal/history"
	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// GraphStore is the part of the graph client the graph tool needs
type GraphStore interface {
	Schema(ctx context.Context) (*graph.Schema, error)
	Query(ctx context.Context, cypher string, params map[string]interface{}, maxRows int) ([]map[string]interface{}, error)
}

// GraphTool answers structural questions by generating Cypher, correcting its
// relationship directions, running it and phrasing the rows as an answer.
type GraphTool struct {
	llm     adapter.ChatModel
	graph   GraphStore
	history history.Store
	opts    Options
	qaModel string
	maxRows int
	logger  *zap.Logger
}

// NewGraphTool creates the graph tool. opts.Model generates Cypher and
// qaModel phrases the answer.
func NewGraphTool(llm adapter.ChatModel, g GraphStore, store history.Store, opts Options, qaModel string, maxRows int) *GraphTool {
	return &GraphTool{
		llm:     llm,
		graph:   g,
		history: store,
		opts:    opts,
		qaModel: qaModel,
		maxRows: maxRows,
		logger:  logger.Named("graph_tool"),
	}
}

// Descriptor implements Tool
func (t *GraphTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        ToolGraph,
		Description: "Useful Tool for retrieving structural, interconnected and relational knowledge related to Dune",
		Parameters:  questionParameters,
	}
}

// Invoke implements Tool. Nothing is persisted unless every step succeeds.
func (t *GraphTool) Invoke(ctx context.Context, in Input) (string, error) {
	turns, err := readHistory(ctx, t.history, in, t.opts)
	if err != nil {
		return "", err
	}

	schema, err := t.graph.Schema(ctx)
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolGraph, "schema", err)
	}

	generated, err := t.generateCypher(ctx, schema, turns, in.Question)
	if err != nil {
		return "", err
	}

	corrected, err := cypher.NewCorrector(correctorSchema(schema)).Correct(generated)
	if err != nil {
		return "", apperrors.NewQueryInvalid(generated, "relationship direction cannot be corrected", err)
	}
	if corrected != generated {
		t.logger.Info("Corrected relationship direction",
			zap.String("generated", generated),
			zap.String("corrected", corrected),
		)
	}

	rows, err := t.graph.Query(ctx, corrected, nil, t.maxRows)
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolGraph, "query", err)
	}

	answer, err := t.answer(ctx, in.Question, corrected, rows)
	if err != nil {
		return "", err
	}

	err = appendTurn(ctx, t.history, history.Turn{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Tool:      ToolGraph,
		Question:  in.Question,
		Query:     corrected,
		Answer:    answer,
	}, t.opts)
	if err != nil {
		return "", err
	}

	t.logger.Debug("Graph tool answered",
		zap.String("user_id", in.UserID),
		zap.String("session_id", in.SessionID),
		zap.Int("rows", len(rows)),
	)
	return answer, nil
}

func (t *GraphTool) generateCypher(ctx context.Context, schema *graph.Schema, turns []history.Turn, question string) (string, error) {
	msgs := []adapter.Message{{Role: adapter.RoleSystem, Content: cypherSystemPrompt}}
	msgs = append(msgs, historyMessages(turns, true)...)
	msgs = append(msgs, adapter.Message{
		Role:    adapter.RoleUser,
		Content: fmt.Sprintf(cypherUserTemplate, schema.String(), question),
	})

	resp, err := t.llm.Complete(ctx, adapter.Request{
		Model:       t.opts.Model,
		Messages:    msgs,
		Temperature: 0,
		Stop:        []string{cypherStop},
	})
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolGraph, "cypher generation", err)
	}

	query := cypher.ExtractQuery(resp.Content)
	if query == "" {
		return "", apperrors.NewQueryInvalid("", "model returned no query", nil)
	}
	return query, nil
}

func (t *GraphTool) answer(ctx context.Context, question, query string, rows []map[string]interface{}) (string, error) {
	response, err := json.Marshal(rows)
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolGraph, "encode rows", err)
	}

	resp, err := t.llm.Complete(ctx, adapter.Request{
		Model: t.qaModel,
		Messages: []adapter.Message{
			{Role: adapter.RoleSystem, Content: qaSystemPrompt},
			{Role: adapter.RoleUser, Content: fmt.Sprintf(qaUserTemplate, question, query, string(response))},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", apperrors.NewToolExecutionFailed(ToolGraph, "answer generation", err)
	}
	return resp.Content, nil
}

func correctorSchema(s *graph.Schema) []cypher.Schema {
	out := make([]cypher.Schema, 0, len(s.Relationships))
	for _, r := range s.Relationships {
		out = append(out, cypher.Schema{Start: r.Start, Rel: r.Type, End: r.End})
	}
	return out
}

func readHistory(ctx context.Context, store history.Store, in Input, opts Options) ([]history.Turn, error) {
	ctx, cancel := withTimeout(ctx, opts.StoreTimeout)
	defer cancel()

	turns, err := store.Read(ctx, in.UserID, in.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewContextTimeout("history read", opts.StoreTimeout, err)
		}
		return nil, apperrors.NewHistoryFailed("read", in.UserID, in.SessionID, err)
	}
	return history.Window(turns, opts.HistoryWindow), nil
}

func appendTurn(ctx context.Context, store history.Store, turn history.Turn, opts Options) error {
	ctx, cancel := withTimeout(ctx, opts.StoreTimeout)
	defer cancel()

	if err := store.Append(ctx, turn); err != nil {
		if ctx.Err() != nil {
			return apperrors.NewContextTimeout("history append", opts.StoreTimeout, err)
		}
		return apperrors.NewHistoryFailed("append", turn.UserID, turn.SessionID, err)
	}
	return nil
}
