package retrieval

import (
	"context"

	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/graph"
	"dune-rag/backend/pkg/logger"
)

// VectorSearcher runs a nearest-neighbour search over a Neo4j vector index
type VectorSearcher interface {
	VectorSearch(ctx context.Context, index string, k int, embedding []float64, retrievalQuery string) ([]graph.VectorHit, error)
}

// IndexSpec describes one strategy's vector index and the Cypher that turns
// matched nodes into passages
type IndexSpec struct {
	Index          string
	Label          string
	RetrievalQuery string
}

const typicalRetrievalQuery = `RETURN node.text AS text, score, {source: node.source} AS metadata`

const parentRetrievalQuery = `
MATCH (node)<-[:HAS_CHILD]-(parent)
WITH parent, max(score) AS score
RETURN parent.text AS text, score, {source: parent.source, id: parent.id} AS metadata
ORDER BY score DESC`

const hypotheticalQuestionsRetrievalQuery = `
MATCH (node)<-[:HAS_QUESTION]-(parent)
WITH parent, max(score) AS score
RETURN parent.text AS text, score, {source: parent.source, id: parent.id} AS metadata
ORDER BY score DESC`

const summaryRetrievalQuery = `
MATCH (node)<-[:HAS_SUMMARY]-(parent)
WITH parent, max(score) AS score
RETURN parent.text AS text, score, {source: parent.source, id: parent.id} AS metadata
ORDER BY score DESC`

// Specs is the index layout for every built-in strategy. The ingest pipeline
// creates these indexes; the retrievers query them.
var Specs = map[string]IndexSpec{
	StrategyTypical:               {Index: "typical_rag", Label: "Parent", RetrievalQuery: typicalRetrievalQuery},
	StrategyParent:                {Index: "parent_document", Label: "Child", RetrievalQuery: parentRetrievalQuery},
	StrategyHypotheticalQuestions: {Index: "hypothetical_questions", Label: "Question", RetrievalQuery: hypotheticalQuestionsRetrievalQuery},
	StrategySummary:               {Index: "summary", Label: "Summary", RetrievalQuery: summaryRetrievalQuery},
}

// Neo4jVectorRetriever embeds the query and searches one vector index
type Neo4jVectorRetriever struct {
	strategy string
	spec     IndexSpec
	topK     int
	embedder adapter.Embedder
	searcher VectorSearcher
	logger   *zap.Logger
}

// NewNeo4jVectorRetriever creates a retriever for one strategy
func NewNeo4jVectorRetriever(strategy string, spec IndexSpec, topK int, embedder adapter.Embedder, searcher VectorSearcher) *Neo4jVectorRetriever {
	if topK < 1 {
		topK = 4
	}
	return &Neo4jVectorRetriever{
		strategy: strategy,
		spec:     spec,
		topK:     topK,
		embedder: embedder,
		searcher: searcher,
		logger:   logger.Named("retrieval"),
	}
}

// Retrieve returns up to topK passages for the query
func (r *Neo4jVectorRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.searcher.VectorSearch(ctx, r.spec.Index, r.topK, embedding, r.spec.RetrievalQuery)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(hits))
	for _, hit := range hits {
		if hit.Text == "" {
			continue
		}
		passages = append(passages, Passage{Text: hit.Text, Score: hit.Score, Metadata: hit.Metadata})
	}

	r.logger.Debug("Passages retrieved",
		zap.String("strategy", r.strategy),
		zap.String("index", r.spec.Index),
		zap.Int("count", len(passages)),
	)
	return passages, nil
}

// NewDefaultRegistry registers a vector retriever for every built-in strategy
func NewDefaultRegistry(defaultKey string, topK int, embedder adapter.Embedder, searcher VectorSearcher) *Registry {
	if defaultKey == "" {
		defaultKey = StrategyTypical
	}
	reg := NewRegistry(defaultKey)
	for key, spec := range Specs {
		reg.Register(key, NewNeo4jVectorRetriever(key, spec, topK, embedder, searcher))
	}
	return reg
}
