package tools

import (
	"context"
	"time"

	"dune-rag/backend/internal/adapter"
)

// Tool names
const (
	ToolGraph  = "graph_tool"
	ToolVector = "vector_tool"
)

// Kind identifies one member of the closed tool set
type Kind int

const (
	KindUnknown Kind = iota
	KindGraph
	KindVector
)

// String returns the tool name for a kind
func (k Kind) String() string {
	switch k {
	case KindGraph:
		return ToolGraph
	case KindVector:
		return ToolVector
	default:
		return "unknown"
	}
}

// KindOf maps a model-supplied function name onto the closed tool set
func KindOf(name string) (Kind, bool) {
	switch name {
	case ToolGraph:
		return KindGraph, true
	case ToolVector:
		return KindVector, true
	default:
		return KindUnknown, false
	}
}

// Descriptor is the static description of a tool shown to the model
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Definition renders the descriptor as a function for the model's tool catalog
func (d Descriptor) Definition() adapter.Tool {
	return adapter.Tool{
		Type: "function",
		Function: adapter.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// Input is what a tool receives for one invocation. UserID and SessionID come
// from the request, never from the model.
type Input struct {
	Question  string
	UserID    string
	SessionID string
	Strategy  string // retrieval strategy key, vector tool only
}

// Tool is one invocable capability of the agent
type Tool interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, in Input) (string, error)
}

// questionParameters is the argument schema shared by both tools; the model
// only chooses the question text
var questionParameters = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"question": map[string]interface{}{
			"type":        "string",
			"description": "The question to answer, rephrased to be self-contained",
		},
	},
	"required": []string{"question"},
}

// Catalog returns the function definitions for a set of tools
func Catalog(tools ...Tool) []adapter.Tool {
	defs := make([]adapter.Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Descriptor().Definition())
	}
	return defs
}

// Options holds the settings shared by both tools
type Options struct {
	Model         string        // model for the tool's generation steps
	HistoryWindow int           // most recent turns put in prompts, 0 = all
	StoreTimeout  time.Duration // bound on each history call
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
