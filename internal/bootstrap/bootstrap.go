package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/filters"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/routing"
	"github.com/kirillkom/docqa/internal/core/synthesis"
	"github.com/kirillkom/docqa/internal/core/usecase"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/reasoning"
	"github.com/kirillkom/docqa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docqa/internal/infrastructure/ratelimit"
	"github.com/kirillkom/docqa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa/internal/infrastructure/session/memory"
	"github.com/kirillkom/docqa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	QueryUC ports.QueryService

	closeFn func()
}

// New wires the query engine. queryMetrics may be nil.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, queryMetrics *metrics.QueryMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	vectors, err := newVectorSearch(cfg, db)
	if err != nil {
		closeDB()
		return nil, err
	}
	focus, err := newFocusStore(cfg, db)
	if err != nil {
		closeDB()
		return nil, err
	}

	synonyms := filters.DefaultSynonyms()
	if cfg.SynonymsFile != "" {
		synonyms, err = filters.LoadSynonyms(cfg.SynonymsFile)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("load synonyms: %w", err)
		}
	}

	reasoner, embedder, err := newReasoning(cfg, logger, queryMetrics)
	if err != nil {
		closeDB()
		return nil, err
	}

	synthesizer, err := synthesis.NewSynthesizer(reasoner, synthesis.Config{
		CoverageWeight:   cfg.CoverageWeight,
		SimilarityWeight: cfg.SimilarityWeight,
		StrictThreshold:  cfg.SynthesisStrictThreshold,
		MaxDocuments:     cfg.SynthesisMaxDocuments,
		Workers:          cfg.SynthesisWorkers,
	}, synthesis.WithLogger(logger))
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init synthesizer: %w", err)
	}

	deps := usecase.QueryDeps{
		Router:      routing.NewRouter(reasoner, routing.WithLogger(logger), routing.WithTypeMatcher(synonyms.Match)),
		Filters:     filters.NewExtractor(reasoner, filters.WithSynonyms(synonyms), filters.WithLogger(logger)),
		Ranker:      retrieval.NewRanker(retrieval.WithTypeCanonicalizer(synonyms.Canonical)),
		Synthesizer: synthesizer,
		Reasoner:    reasoner,
		Metadata:    postgres.NewDocumentRepository(db),
		Keywords:    postgres.NewChunkRepository(db),
		Vectors:     vectors,
		Links:       postgres.NewLinkRepository(db),
		Focus:       focus,
		Logger:      logger,
	}
	if vectors != nil {
		deps.Embedder = embedder
	}
	if queryMetrics != nil {
		deps.Observer = queryMetrics
	}

	queryUC, err := usecase.NewQueryUseCase(deps, usecase.QueryLimits{
		CandidateLimit: cfg.CandidateLimit,
		ListLimit:      cfg.ListLimit,
		ChunkDocuments: cfg.ChunkDocuments,
		MatchCount:     cfg.MatchCount,
		MatchThreshold: cfg.MatchThreshold,
		KeywordLimit:   cfg.KeywordLimit,
		RRFK:           cfg.RRFK,
		RerankTopN:     cfg.RerankTopN,
	})
	if err != nil {
		synthesizer.Close()
		closeDB()
		return nil, fmt.Errorf("init query use case: %w", err)
	}

	logger.Info("query_engine_ready",
		"vector_backend", cfg.VectorBackend,
		"focus_backend", cfg.FocusBackend,
		"alternate_provider", cfg.AlternateProvider,
	)
	return &App{
		Config:  cfg,
		Logger:  logger,
		QueryUC: queryUC,
		closeFn: func() {
			synthesizer.Close()
			closeDB()
		},
	}, nil
}

// NewQueryQueue connects the NATS request/reply transport.
func NewQueryQueue(cfg config.Config, logger *slog.Logger) (*nats.Queue, error) {
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), resilience.WithLogger(logger)),
		QueueGroup:         cfg.NATSQueueGroup,
		Workers:            cfg.WorkerConcurrency,
		RequestTimeout:     cfg.APIRequestTimeout,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init query queue: %w", err)
	}
	return queue, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newVectorSearch(cfg config.Config, db *sql.DB) (ports.VectorSearch, error) {
	switch cfg.VectorBackend {
	case "pgvector", "":
		return postgres.NewChunkRepository(db), nil
	case "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func newFocusStore(cfg config.Config, db *sql.DB) (ports.FocusStore, error) {
	switch cfg.FocusBackend {
	case "memory", "":
		return memory.NewFocusStore(cfg.FocusTTL), nil
	case "postgres":
		return postgres.NewConversationRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown focus backend %q", cfg.FocusBackend)
	}
}

func newReasoning(cfg config.Config, logger *slog.Logger, queryMetrics *metrics.QueryMetrics) (*reasoning.Client, *ollama.Embedder, error) {
	retry := resilience.DefaultConfig()
	retry.MaxRetries = cfg.ReasoningMaxRetries
	retry.BaseDelay = cfg.ReasoningBaseDelay
	retry.MaxDelay = cfg.ReasoningMaxDelay
	retry.BreakerEnabled = cfg.ReasoningBreakerEnabled
	executor := resilience.NewExecutor(retry, resilience.WithLogger(logger))

	limiter := ratelimit.New(ratelimit.Config{
		Window:         cfg.ReasoningWindow,
		MaxRequests:    cfg.ReasoningMaxRequests,
		MaxConcurrent:  cfg.ReasoningMaxConcurrent,
		DefaultBackoff: cfg.ReasoningDefaultBackoff,
	})

	client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
	opts := []reasoning.Option{
		reasoning.WithLogger(logger),
		reasoning.WithCallTimeout(cfg.ReasoningCallTimeout),
	}
	if queryMetrics != nil {
		opts = append(opts, reasoning.WithCallObserver(queryMetrics))
	}

	switch cfg.AlternateProvider {
	case "":
	case "openai":
		alternate, err := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init alternate provider: %w", err)
		}
		opts = append(opts, reasoning.WithAlternate(alternate))
	default:
		return nil, nil, fmt.Errorf("unknown alternate provider %q", cfg.AlternateProvider)
	}

	reasoner := reasoning.New(ollama.NewGenerator(client), limiter, executor, opts...)
	return reasoner, ollama.NewEmbedder(client, executor), nil
}
