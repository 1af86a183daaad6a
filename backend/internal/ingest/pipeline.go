package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/retrieval"
	"dune-rag/backend/pkg/logger"
)

// GraphWriter is the part of the graph client the pipeline writes through
type GraphWriter interface {
	Write(ctx context.Context, cypher string, params map[string]interface{}) error
	EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error
}

// Options controls which node kinds are generated
type Options struct {
	Model          string
	SkipQuestions  bool
	SkipSummaries  bool
	Concurrency    int
	ParentSize     int
	ParentOverlap  int
	ChildSize      int
	ChildOverlap   int
	QuestionsLimit int
}

// DefaultOptions mirrors the chunk layout the retrieval strategies expect
func DefaultOptions() Options {
	return Options{
		Concurrency:   4,
		ParentSize:    512,
		ParentOverlap: 24,
		ChildSize:     100,
		ChildOverlap:  24,
	}
}

// Stats counts the nodes written by one run
type Stats struct {
	Parents   int64
	Children  int64
	Questions int64
	Summaries int64
}

// Pipeline splits documents, embeds the pieces and stores them as the
// Parent, Child, Question and Summary nodes the vector indexes cover.
type Pipeline struct {
	graph    GraphWriter
	embedder adapter.Embedder
	llm      adapter.ChatModel
	parents  *Splitter
	children *Splitter
	opts     Options
	logger   *zap.Logger
}

// NewPipeline creates a pipeline. llm may be nil when both questions and
// summaries are skipped.
func NewPipeline(g GraphWriter, embedder adapter.Embedder, llm adapter.ChatModel, tok Tokenizer, opts Options) (*Pipeline, error) {
	if llm == nil && (!opts.SkipQuestions || !opts.SkipSummaries) {
		return nil, fmt.Errorf("a chat model is required to generate questions or summaries")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	parents, err := NewSplitter(tok, opts.ParentSize, opts.ParentOverlap)
	if err != nil {
		return nil, fmt.Errorf("parent splitter: %w", err)
	}
	children, err := NewSplitter(tok, opts.ChildSize, opts.ChildOverlap)
	if err != nil {
		return nil, fmt.Errorf("child splitter: %w", err)
	}

	return &Pipeline{
		graph:    g,
		embedder: embedder,
		llm:      llm,
		parents:  parents,
		children: children,
		opts:     opts,
		logger:   logger.Named("ingest"),
	}, nil
}

type parentChunk struct {
	id       string
	source   string
	text     string
	children []string
}

// Run ingests the documents and then makes sure every index exists. The
// first failing parent cancels the rest.
func (p *Pipeline) Run(ctx context.Context, docs []Document) (Stats, error) {
	var chunks []parentChunk
	for _, doc := range docs {
		// Ids are derived from the source so re-ingesting merges instead of duplicating.
		prefix := uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.Source)).String()
		for i, text := range p.parents.Split(doc.Text) {
			chunks = append(chunks, parentChunk{
				id:       fmt.Sprintf("%s-%d", prefix, i),
				source:   doc.Source,
				text:     text,
				children: p.children.Split(text),
			})
		}
	}
	if len(chunks) == 0 {
		return Stats{}, fmt.Errorf("no text to ingest")
	}

	p.logger.Info("Ingesting documents",
		zap.Int("documents", len(docs)),
		zap.Int("parents", len(chunks)),
	)

	var stats Stats
	var dims atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			n, err := p.ingestParent(gctx, chunk, &stats)
			if err != nil {
				return fmt.Errorf("parent %s: %w", chunk.id, err)
			}
			dims.CompareAndSwap(0, int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if err := p.ensureIndexes(ctx, int(dims.Load())); err != nil {
		return stats, err
	}

	p.logger.Info("Ingest complete",
		zap.Int64("parents", stats.Parents),
		zap.Int64("children", stats.Children),
		zap.Int64("questions", stats.Questions),
		zap.Int64("summaries", stats.Summaries),
	)
	return stats, nil
}

// ingestParent writes one parent with its children, questions and summary
// and returns the embedding dimension.
func (p *Pipeline) ingestParent(ctx context.Context, chunk parentChunk, stats *Stats) (int, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, append([]string{chunk.text}, chunk.children...))
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	children := make([]map[string]interface{}, len(chunk.children))
	for i, text := range chunk.children {
		children[i] = map[string]interface{}{
			"id":        fmt.Sprintf("%s-%d", chunk.id, i),
			"text":      text,
			"embedding": vectors[i+1],
		}
	}

	err = p.graph.Write(ctx, parentChildQuery, map[string]interface{}{
		"parent_id":        chunk.id,
		"parent_text":      chunk.text,
		"parent_embedding": vectors[0],
		"source":           chunk.source,
		"children":         children,
	})
	if err != nil {
		return 0, fmt.Errorf("write parent: %w", err)
	}
	atomic.AddInt64(&stats.Parents, 1)
	atomic.AddInt64(&stats.Children, int64(len(children)))

	if !p.opts.SkipQuestions {
		n, err := p.writeQuestions(ctx, chunk)
		if err != nil {
			return 0, err
		}
		atomic.AddInt64(&stats.Questions, int64(n))
	}

	if !p.opts.SkipSummaries {
		if err := p.writeSummary(ctx, chunk); err != nil {
			return 0, err
		}
		atomic.AddInt64(&stats.Summaries, 1)
	}

	return len(vectors[0]), nil
}

func (p *Pipeline) writeQuestions(ctx context.Context, chunk parentChunk) (int, error) {
	questions, err := p.generateQuestions(ctx, chunk.text)
	if err != nil {
		return 0, fmt.Errorf("generate questions: %w", err)
	}
	if len(questions) == 0 {
		return 0, nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, questions)
	if err != nil {
		return 0, fmt.Errorf("embed questions: %w", err)
	}

	rows := make([]map[string]interface{}, len(questions))
	for i, q := range questions {
		rows[i] = map[string]interface{}{
			"id":        fmt.Sprintf("%s-q%d", chunk.id, i),
			"text":      q,
			"embedding": vectors[i],
		}
	}

	err = p.graph.Write(ctx, questionsQuery, map[string]interface{}{
		"parent_id": chunk.id,
		"questions": rows,
	})
	if err != nil {
		return 0, fmt.Errorf("write questions: %w", err)
	}
	return len(rows), nil
}

func (p *Pipeline) writeSummary(ctx context.Context, chunk parentChunk) error {
	resp, err := p.llm.Complete(ctx, adapter.Request{
		Model: p.opts.Model,
		Messages: []adapter.Message{
			{Role: adapter.RoleSystem, Content: summarySystemPrompt},
			{Role: adapter.RoleUser, Content: fmt.Sprintf(summaryUserTemplate, chunk.text)},
		},
	})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("generate summary: model returned no text")
	}

	embedding, err := p.embedder.EmbedQuery(ctx, summary)
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}

	err = p.graph.Write(ctx, summaryQuery, map[string]interface{}{
		"parent_id":         chunk.id,
		"summary_id":        chunk.id + "-s",
		"summary_text":      summary,
		"summary_embedding": embedding,
	})
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// generateQuestions asks for hypothetical questions through a function call
// and falls back to one question per line of plain text.
func (p *Pipeline) generateQuestions(ctx context.Context, text string) ([]string, error) {
	resp, err := p.llm.Complete(ctx, adapter.Request{
		Model: p.opts.Model,
		Messages: []adapter.Message{
			{Role: adapter.RoleSystem, Content: questionsSystemPrompt},
			{Role: adapter.RoleUser, Content: fmt.Sprintf(questionsUserTemplate, text)},
		},
		Tools: []adapter.Tool{questionsTool},
	})
	if err != nil {
		return nil, err
	}

	var questions []string
	if len(resp.ToolCalls) > 0 {
		if list, ok := resp.ToolCalls[0].Arguments["questions"].([]interface{}); ok {
			for _, item := range list {
				if q, ok := item.(string); ok && strings.TrimSpace(q) != "" {
					questions = append(questions, strings.TrimSpace(q))
				}
			}
		}
	} else {
		for _, line := range strings.Split(resp.Content, "\n") {
			if q := strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. ")); q != "" {
				questions = append(questions, q)
			}
		}
	}

	if p.opts.QuestionsLimit > 0 && len(questions) > p.opts.QuestionsLimit {
		questions = questions[:p.opts.QuestionsLimit]
	}
	return questions, nil
}

func (p *Pipeline) ensureIndexes(ctx context.Context, dims int) error {
	if dims == 0 {
		return fmt.Errorf("unknown embedding dimension")
	}

	keys := []string{retrieval.StrategyTypical, retrieval.StrategyParent}
	if !p.opts.SkipQuestions {
		keys = append(keys, retrieval.StrategyHypotheticalQuestions)
	}
	if !p.opts.SkipSummaries {
		keys = append(keys, retrieval.StrategySummary)
	}

	for _, key := range keys {
		spec := retrieval.Specs[key]
		if err := p.graph.EnsureVectorIndex(ctx, spec.Index, spec.Label, "embedding", dims); err != nil {
			return err
		}
	}
	return nil
}

var constraints = []string{
	"CREATE CONSTRAINT parent_id_unique IF NOT EXISTS FOR (p:Parent) REQUIRE p.id IS UNIQUE",
	"CREATE CONSTRAINT child_id_unique IF NOT EXISTS FOR (c:Child) REQUIRE c.id IS UNIQUE",
	"CREATE CONSTRAINT question_id_unique IF NOT EXISTS FOR (q:Question) REQUIRE q.id IS UNIQUE",
	"CREATE CONSTRAINT summary_id_unique IF NOT EXISTS FOR (s:Summary) REQUIRE s.id IS UNIQUE",
}

// EnsureConstraints creates the id uniqueness constraints the MERGE
// statements rely on. Failures are logged and counted, not returned, since
// older servers may already hold an equivalent constraint under another name.
func (p *Pipeline) EnsureConstraints(ctx context.Context) int {
	failed := 0
	for _, c := range constraints {
		if err := p.graph.Write(ctx, c, nil); err != nil {
			p.logger.Warn("Failed to create constraint", zap.String("constraint", c), zap.Error(err))
			failed++
		}
	}
	return failed
}
