package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/graph"
	"dune-rag/backend/internal/ingest"
	"dune-rag/backend/pkg/config"
	"dune-rag/backend/pkg/logger"
)

func main() {
	skipQuestions := flag.Bool("skip-questions", false, "Do not generate hypothetical questions")
	skipSummaries := flag.Bool("skip-summaries", false, "Do not generate parent summaries")
	encoding := flag.String("encoding", "cl100k_base", "tiktoken encoding used to split text")
	concurrency := flag.Int("concurrency", 4, "Parents processed in parallel")
	questions := flag.Int("max-questions", 0, "Keep at most this many questions per parent (0 keeps all)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file-or-url>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting ingest...", zap.Strings("sources", flag.Args()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	graphClient := graph.NewClient(driver, cfg.Neo4jDatabase, 0)
	defer graphClient.Close(context.Background())

	if err := graphClient.Ping(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	tok, err := ingest.NewTiktokenTokenizer(*encoding)
	if err != nil {
		log.Fatal("Failed to load tokenizer", zap.Error(err))
	}

	var llm adapter.ChatModel
	if !*skipQuestions || !*skipSummaries {
		llm = adapter.NewLLMAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.QAModel,
			adapter.WithMaxRetries(cfg.LLMMaxRetries),
			adapter.WithTimeout(cfg.LLMTimeout),
		)
	}

	opts := ingest.DefaultOptions()
	opts.Model = cfg.QAModel
	opts.SkipQuestions = *skipQuestions
	opts.SkipSummaries = *skipSummaries
	opts.Concurrency = *concurrency
	opts.QuestionsLimit = *questions

	pipeline, err := ingest.NewPipeline(
		graphClient,
		adapter.NewEmbeddingAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.LLMTimeout),
		llm,
		tok,
		opts,
	)
	if err != nil {
		log.Fatal("Failed to create ingest pipeline", zap.Error(err))
	}

	log.Info("Creating constraints...")
	if failed := pipeline.EnsureConstraints(ctx); failed > 0 {
		log.Warn("Some constraints were not created (may already exist)", zap.Int("failed", failed))
	}

	client := &http.Client{Timeout: 30 * time.Second}
	docs := make([]ingest.Document, 0, flag.NArg())
	for _, source := range flag.Args() {
		doc, err := ingest.Load(ctx, client, source)
		if err != nil {
			log.Fatal("Failed to load source", zap.String("source", source), zap.Error(err))
		}
		log.Info("Loaded source", zap.String("source", source), zap.Int("bytes", len(doc.Text)))
		docs = append(docs, doc)
	}

	start := time.Now()
	stats, err := pipeline.Run(ctx, docs)
	if err != nil {
		log.Fatal("Ingest failed", zap.Error(err))
	}

	log.Info("Ingest finished",
		zap.Int64("parents", stats.Parents),
		zap.Int64("children", stats.Children),
		zap.Int64("questions", stats.Questions),
		zap.Int64("summaries", stats.Summaries),
		zap.Duration("duration", time.Since(start)),
	)
}
