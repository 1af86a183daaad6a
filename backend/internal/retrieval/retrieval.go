// Package retrieval implements the swappable passage retrieval strategies
// used by the vector tool.
package retrieval

import (
	"context"
	"sort"
	"sync"

	apperrors "dune-rag/backend/pkg/errors"
)

// Strategy keys
const (
	StrategyTypical               = "typical_rag"
	StrategyParent                = "parent_strategy"
	StrategyHypotheticalQuestions = "hypothetical_questions"
	StrategySummary               = "summary_strategy"
)

// Passage is one retrieved piece of source text
type Passage struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Retriever returns the passages most relevant to a query
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// Registry maps strategy keys to retrievers. Lookups are safe for concurrent
// use and a key always resolves to the same instance.
type Registry struct {
	mu         sync.RWMutex
	retrievers map[string]Retriever
	defaultKey string
}

// NewRegistry creates a registry whose empty key resolves to defaultKey
func NewRegistry(defaultKey string) *Registry {
	return &Registry{
		retrievers: make(map[string]Retriever),
		defaultKey: defaultKey,
	}
}

// Register binds a key to a retriever, replacing any previous binding
func (r *Registry) Register(key string, retriever Retriever) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrievers[key] = retriever
}

// Resolve returns the retriever for key; the empty key means the default
func (r *Registry) Resolve(key string) (Retriever, error) {
	if key == "" {
		key = r.defaultKey
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	retriever, ok := r.retrievers[key]
	if !ok {
		return nil, apperrors.NewUnknownStrategy(key)
	}
	return retriever, nil
}

// Default returns the key used when none is given
func (r *Registry) Default() string {
	return r.defaultKey
}

// Keys lists the registered strategy keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.retrievers))
	for k := range r.retrievers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
