package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/nafsi/internal/actions"
	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/config"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/embedding"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/llm"
	"github.com/jkaninda/nafsi/internal/llm/anthropic"
	"github.com/jkaninda/nafsi/internal/llm/openai"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/monologue"
	"github.com/jkaninda/nafsi/internal/observability"
	"github.com/jkaninda/nafsi/internal/storage"
	pgstore "github.com/jkaninda/nafsi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/nafsi/internal/storage/sqlite"
)

// SharedComponents holds all initialized subsystems that both serve and
// one-shot modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs        *observability.Observability // nil = observability disabled.
	Provider   llm.Provider
	Embedder   embedding.Provider
	Supervisor *degradation.Supervisor
	Gate       *agency.Gate
	Limbic     *limbic.Engine
	Memories   *memory.Index
	Actions    *actions.Registry
	Engine     *core.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (sc *SharedComponents) Registry() *prometheus.Registry {
	if sc.Obs == nil {
		return nil
	}
	return sc.Obs.Registry()
}

// initShared performs all common initialization shared between serve and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	reg := sc.Registry()

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(ctx); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Generation provider. Without one the presence runs permanently
	// degraded rather than refusing to start.
	provider := newGenerationProvider(cfg, logger)
	sc.Provider = provider
	logger.Debug("generation provider initialized", slog.String("provider", provider.Name()))

	// Embedding provider.
	embedder := newEmbeddingProvider(cfg, logger)
	sc.Embedder = embedder
	logger.Debug("embedding provider initialized",
		slog.String("provider", embedder.Name()),
		slog.Int("dimensions", embedder.Dimensions()),
	)

	// Action executors behind the agency gate.
	registry := initActions(ctx, cfg, sc, logger)
	sc.Actions = registry

	// Degradation supervisor.
	supervisor := degradation.NewSupervisor(logger,
		degradation.WithInterval(cfg.Degradation.ProbeInterval()),
		degradation.WithProbeTimeout(cfg.Degradation.ProbeTimeout()),
		degradation.WithThreshold(cfg.Degradation.ProbeThreshold()),
		degradation.WithMetrics(degradation.NewMetrics(reg)),
	)
	supervisor.AddProbe(degradation.DepStorage, store.Ping)
	supervisor.AddProbe(degradation.DepGeneration, generationProbe(cfg, provider))
	supervisor.AddProbe(degradation.DepEmbedding, func(ctx context.Context) error {
		_, err := embedder.Embed(ctx, []string{"probe"})
		return err
	})
	sc.Supervisor = supervisor

	// Agency: trust ladder, contract, advisory queue, audit.
	agencyMetrics := agency.NewMetrics(reg)
	trust := agency.NewTrustManager(store.Trust(), cfg.Agency, agencyMetrics, logger)
	advisory := agency.NewAdvisoryQueue(advisoryTTL(cfg), logger)
	gate := agency.NewGate(
		agency.DefaultContract(),
		trust,
		registry,
		store.Actions(),
		store.Audit(),
		advisory,
		agencyMetrics,
		logger,
	)
	sc.Gate = gate

	// Affective engine.
	var limbicCfg limbic.Config
	if cfg.Limbic != nil {
		limbicCfg = *cfg.Limbic
	}
	limbicEngine := limbic.NewEngine(store.Affective(), limbicCfg, limbic.NewMetrics(reg), logger)
	sc.Limbic = limbicEngine

	// Memory index.
	var memCfg memory.Config
	if cfg.Memory != nil {
		memCfg = *cfg.Memory
	}
	memIndex := memory.NewIndex(store.Memories(), memCfg, memory.NewMetrics(reg), logger)
	sc.Memories = memIndex

	// Deliberation engine.
	deliberator := monologue.NewEngine(provider, logger,
		monologue.WithPerspectiveTimeout(cfg.Monologue.PerspectiveTimeout()),
		monologue.WithMetrics(monologue.NewMetrics(reg)),
	)

	// Turn pipeline.
	sc.Engine = core.NewEngine(
		limbicEngine,
		memIndex,
		store.Heritage(),
		deliberator,
		gate,
		supervisor,
		embedder,
		store.Counterparts(),
		cfg.Core,
		core.NewMetrics(reg),
		logger,
	)

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
		obs.Health.SetCapabilitySource(func() string {
			return supervisor.Level().String()
		})
	}

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	driver := cfg.Storage.StorageDriver()

	switch driver {
	case storage.DriverPostgres:
		return initPostgresStore(ctx, cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	if envDSN := os.Getenv("NAFSI_DB_DSN"); envDSN != "" {
		dsn = envDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or NAFSI_DB_DSN)")
	}

	pgCfg := &pgstore.Config{DSN: dsn}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
	}

	return pgstore.Open(ctx, pgCfg, logger)
}

// newGenerationProvider builds the generation chain in fallback order:
// anthropic, openai, ollama — whichever are configured.
func newGenerationProvider(cfg *config.Config, logger *slog.Logger) llm.Provider {
	var providers []llm.Provider

	if cfg.Providers.Anthropic.APIKey != "" {
		var opts []anthropic.Option
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		providers = append(providers, anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
			opts...,
		))
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		providers = append(providers, openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		))
	}

	if cfg.Providers.Ollama.Model != "" {
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		providers = append(providers, openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		))
	}

	switch len(providers) {
	case 0:
		logger.Warn("no generation provider configured, running degraded")
		return unavailableProvider{}
	case 1:
		return providers[0]
	default:
		return llm.NewFallbackProvider(providers, logger)
	}
}

// unavailableProvider stands in when no generation backend is configured.
// The degradation supervisor observes its failures and caps the capability
// level accordingly.
type unavailableProvider struct{}

func (unavailableProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	return nil, llm.ErrUnavailable
}

func (unavailableProvider) Name() string { return "none" }

// generationProbe returns the health probe for the generation dependency.
func generationProbe(cfg *config.Config, provider llm.Provider) degradation.Probe {
	if !cfg.HasGeneration() {
		return func(context.Context) error { return llm.ErrUnavailable }
	}
	// Minimal round trip. Cost is bounded by the probe interval.
	return func(ctx context.Context) error {
		_, err := provider.SendMessage(ctx, &llm.Request{
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ok"}},
			MaxTokens: 1,
		})
		return err
	}
}

// newEmbeddingProvider selects the embedding backend. Defaults to the local
// hashing embedder, which always works but retrieves less precisely.
func newEmbeddingProvider(cfg *config.Config, logger *slog.Logger) embedding.Provider {
	ec := cfg.Embedding
	if ec == nil || ec.Provider != "openai" {
		return embedding.NewLocalProvider()
	}

	apiKey := ec.APIKey
	if apiKey == "" {
		apiKey = cfg.Providers.OpenAI.APIKey
	}

	var opts []embedding.OpenAIOption
	if ec.BaseURL != "" {
		opts = append(opts, embedding.WithBaseURL(ec.BaseURL))
	}
	if ec.Dimensions > 0 {
		opts = append(opts, embedding.WithDimensions(ec.Dimensions))
	}
	return embedding.NewOpenAIClient(apiKey, ec.Model, logger, opts...)
}

// initActions registers the built-in action handlers and connects any
// configured MCP servers. A server that fails to connect is skipped with a
// warning rather than failing startup.
func initActions(ctx context.Context, cfg *config.Config, sc *SharedComponents, logger *slog.Logger) *actions.Registry {
	registry := actions.NewRegistry(logger)

	if cfg.Actions == nil {
		return registry
	}

	registry.Register("file.read", actions.NewFileReadHandler(cfg.FileActionRoot()))
	if cfg.Actions.EnableWrite {
		registry.Register("file.write", actions.NewFileWriteHandler(cfg.FileActionRoot()))
	}
	registry.Register("memory.note", actions.NewNoteHandler(cfg.NotePath()))

	for _, mcpCfg := range cfg.Actions.MCPServers {
		h, err := actions.ConnectMCP(ctx, mcpCfg, logger)
		if err != nil {
			logger.Warn("skipping MCP server",
				slog.String("server", mcpCfg.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		category := mcpCfg.Category
		if category == "" {
			category = "automation.trigger"
		}
		registry.Register(category, h)
		sc.addCleanup(func() {
			if err := h.Close(); err != nil {
				logger.Error("closing MCP client",
					slog.String("server", mcpCfg.Name),
					slog.String("error", err.Error()),
				)
			}
		})
		logger.Debug("MCP server connected",
			slog.String("server", mcpCfg.Name),
			slog.String("category", category),
		)
	}

	return registry
}

// advisoryTTL resolves the pending proposal lifetime.
func advisoryTTL(cfg *config.Config) time.Duration {
	if cfg.Agency != nil && cfg.Agency.AdvisoryTTL > 0 {
		return cfg.Agency.AdvisoryTTL
	}
	return time.Hour
}
