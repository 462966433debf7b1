package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kirillkom/verified-rag/internal/config"
	"github.com/kirillkom/verified-rag/internal/core/ports"
	"github.com/kirillkom/verified-rag/internal/core/usecase"
	"github.com/kirillkom/verified-rag/internal/infrastructure/cache"
	"github.com/kirillkom/verified-rag/internal/infrastructure/llm"
	"github.com/kirillkom/verified-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/verified-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/verified-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/verified-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/verified-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/verified-rag/internal/infrastructure/vector/weaviate"
	"github.com/kirillkom/verified-rag/internal/observability/metrics"
)

const (
	StoreQdrant   = "qdrant"
	StoreWeaviate = "weaviate"
)

// Dependency is a named reachability probe for health endpoints.
type Dependency struct {
	Name string
	Ping func(context.Context) error
}

type Options struct {
	// Service labels the process-wide metrics.
	Service string
	// ConnectQueue forces a NATS connection even when verdict publishing is off.
	ConnectQueue bool
}

type App struct {
	Config   config.Config
	Registry *prometheus.Registry

	// Answers is the audited pipeline. Every entry point goes through it.
	Answers      ports.AnswerService
	Audit        *postgres.AuditRepository
	Queue        *nats.Queue
	Dependencies []Dependency

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.PolicyFile) != "" {
		policy, err := config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load pipeline policy: %w", err)
		}
		cfg = cfg.WithPolicy(policy)
	}
	if opts.Service == "" {
		opts.Service = "verified-rag"
	}

	app := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(opts.Service, app.Registry)

	policy := resilience.DefaultPolicy()
	policy.Retry.Attempts = cfg.RetryMaxAttempts
	policy.Retry.Backoff = cfg.RetryInitialBackoff
	policy.Retry.AttemptTimeout = cfg.GenerationTimeout
	policy.Breaker.Disabled = !cfg.BreakerEnabled
	executor := resilience.NewExecutor(policy)

	backends, embedModel, err := buildBackends(cfg, executor)
	if err != nil {
		return nil, err
	}
	roles, err := backends.Resolve(cfg.GeneratorRoles())
	if err != nil {
		return nil, fmt.Errorf("resolve generation backends: %w", err)
	}
	embedder, err := backends.Embedder(cfg.EmbedBackend)
	if err != nil {
		return nil, fmt.Errorf("resolve embedding backend: %w", err)
	}
	if cfg.EmbedCacheEnabled {
		embedder = cache.NewCachedEmbedder(embedder, embedModel, cfg.EmbedCacheTTL, 0)
	}

	store, storePing, err := buildEvidenceStore(cfg, executor)
	if err != nil {
		return nil, err
	}
	app.Dependencies = append(app.Dependencies, Dependency{Name: "evidence_store", Ping: storePing})

	pipeline := buildPipeline(cfg, embedder, store, roles, pipelineMetrics)

	var auditLog ports.AnswerAuditLog
	if cfg.AuditEnabled {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.onClose(func() { _ = db.Close() })

		repo := postgres.NewAuditRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		app.Audit = repo
		auditLog = repo
		app.Dependencies = append(app.Dependencies, Dependency{Name: "postgres", Ping: pingDB(db)})
	}

	var publisher ports.VerdictPublisher
	if cfg.VerdictsEnabled || opts.ConnectQueue {
		queue, err := nats.New(cfg.NATSURL, nats.Options{
			VerdictSubject:     cfg.NATSVerdictSubject,
			QuestionSubject:    cfg.NATSQuestionSubject,
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: executor,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(queue.Close)
		app.Queue = queue
		app.Dependencies = append(app.Dependencies, Dependency{Name: "nats", Ping: queue.Ping})
		if cfg.VerdictsEnabled {
			publisher = queue
		}
	}

	app.Answers = usecase.NewAuditingAnswerService(pipeline, auditLog, publisher)

	slog.Info("pipeline_ready",
		"service", opts.Service,
		"evidence_store", cfg.EvidenceStore,
		"embed_backend", cfg.EmbedBackend,
		"roles", cfg.GeneratorRoles(),
		"accept_threshold", cfg.AcceptThreshold,
		"audit", cfg.AuditEnabled,
		"verdicts", cfg.VerdictsEnabled,
	)
	return app, nil
}

// buildBackends registers only the backends some role or the embedder uses.
func buildBackends(cfg config.Config, executor *resilience.Executor) (*llm.Registry, string, error) {
	registry := llm.NewRegistry()
	embedModel := ""

	if cfg.UsesBackend(llm.BackendOllama) {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.WithExecutor(executor))
		registry.RegisterGenerator(llm.BackendOllama, ollama.NewGenerator(client))
		registry.RegisterEmbedder(llm.BackendOllama, ollama.NewEmbedder(client))
		if strings.EqualFold(cfg.EmbedBackend, llm.BackendOllama) {
			embedModel = cfg.OllamaEmbedModel
		}
	}
	if cfg.UsesBackend(llm.BackendOpenAI) {
		client, err := openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			ChatModel:  cfg.OpenAIChatModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		}, executor)
		if err != nil {
			return nil, "", fmt.Errorf("init openai backend: %w", err)
		}
		registry.RegisterGenerator(llm.BackendOpenAI, openai.NewGenerator(client))
		registry.RegisterEmbedder(llm.BackendOpenAI, openai.NewEmbedder(client))
		if strings.EqualFold(cfg.EmbedBackend, llm.BackendOpenAI) {
			embedModel = cfg.OpenAIEmbedModel
		}
	}
	return registry, embedModel, nil
}

func buildEvidenceStore(cfg config.Config, executor *resilience.Executor) (ports.EvidenceStore, func(context.Context) error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EvidenceStore)) {
	case StoreQdrant, "":
		client := qdrant.New(qdrant.Config{
			BaseURL:      cfg.QdrantURL,
			Collection:   cfg.QdrantCollection,
			APIKey:       cfg.QdrantAPIKey,
			DenseVector:  cfg.QdrantDenseVector,
			SparseVector: cfg.QdrantSparseVector,
			Timeout:      cfg.RetrievalTimeout,
		}, executor)
		return client, client.Ping, nil
	case StoreWeaviate:
		store, err := weaviate.New(weaviate.Config{
			URL:       cfg.WeaviateURL,
			ClassName: cfg.WeaviateClass,
			APIKey:    cfg.WeaviateAPIKey,
			Timeout:   cfg.RetrievalTimeout,
		}, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init weaviate store: %w", err)
		}
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown evidence store %q (want %s or %s)", cfg.EvidenceStore, StoreQdrant, StoreWeaviate)
	}
}

func buildPipeline(
	cfg config.Config,
	embedder ports.Embedder,
	store ports.EvidenceStore,
	roles llm.RoleGenerators,
	observer *metrics.PipelineMetrics,
) *usecase.Pipeline {
	triggers := cfg.KeywordTriggers
	if len(triggers) == 0 {
		triggers = usecase.DefaultKeywordTriggers
	}

	return usecase.NewPipeline(usecase.PipelineStages{
		Retriever: usecase.NewRetriever(embedder, store, usecase.NewReranker(cfg.RetrievalReranker), usecase.RetrieverOptions{
			CandidateFactor: cfg.RetrievalCandidateFactor,
			MinScore:        cfg.RetrievalMinScore,
			KeywordTriggers: triggers,
			Timeout:         cfg.RetrievalTimeout,
		}),
		Verifier: usecase.NewEvidenceVerifier(usecase.VerifierOptions{
			MinSimilarity: cfg.VerifierMinSimilarity,
			Parallelism:   cfg.VerifierParallelism,
		}),
		Extractor: usecase.NewClaimExtractor(roles.Extraction, usecase.ExtractorOptions{
			MinRelevance:        cfg.ExtractionMinRelevance,
			MaxEvidence:         cfg.ExtractionMaxEvidence,
			MaxEvidenceChars:    cfg.ExtractionMaxEvidenceChars,
			GroundingMinOverlap: cfg.GroundingMinOverlap,
			Timeout:             cfg.GenerationTimeout,
			Usage:               observer.RecordUsage,
		}),
		Gaps: usecase.NewGapDetector(roles.Gaps, usecase.GapDetectorOptions{
			Timeout: cfg.GenerationTimeout,
			Usage:   observer.RecordUsage,
		}),
		Synthesizer: usecase.NewSynthesizer(roles.Synthesis, usecase.SynthesizerOptions{
			MaxWords:    cfg.SynthesisMaxWords,
			Temperature: cfg.SynthesisTemperature,
			Timeout:     cfg.GenerationTimeout,
			Usage:       observer.RecordUsage,
		}),
		FactChecker: usecase.NewFactChecker(roles.FactCheck, usecase.FactCheckerOptions{
			Boilerplate: cfg.Boilerplate,
			Timeout:     cfg.GenerationTimeout,
			Usage:       observer.RecordUsage,
		}),
	}, usecase.PipelineOptions{
		TopK:              cfg.RetrievalTopK,
		AcceptThreshold:   cfg.AcceptThreshold,
		FollowupMaxTokens: cfg.FollowupMaxTokens,
		Observer:          observer,
	})
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
