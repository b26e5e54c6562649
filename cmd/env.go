package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/agents"
	"github.com/sells-group/intel-pipeline/internal/cache"
	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/dossier"
	"github.com/sells-group/intel-pipeline/internal/embed"
	"github.com/sells-group/intel-pipeline/internal/orchestrator"
	"github.com/sells-group/intel-pipeline/internal/queue"
	"github.com/sells-group/intel-pipeline/internal/reconcile"
	"github.com/sells-group/intel-pipeline/internal/store"
	anthropicpkg "github.com/sells-group/intel-pipeline/pkg/anthropic"
	"github.com/sells-group/intel-pipeline/pkg/firecrawl"
	"github.com/sells-group/intel-pipeline/pkg/jina"
	"github.com/sells-group/intel-pipeline/pkg/perplexity"
)

// pipelineEnv holds the initialized store, cache, clients, and the assembled
// pipeline components used by the serve/worker/generate commands.
type pipelineEnv struct {
	Store        store.Store
	Cache        *cache.Cache
	Service      *orchestrator.Service
	Orchestrator *orchestrator.Orchestrator
	Worker       *queue.Worker
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCache(ctx context.Context) *cache.Cache {
	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		// The cache is an accelerator, not a dependency. Every operation
		// degrades to a store read when Redis is unreachable.
		zap.L().Warn("redis unavailable, cache degraded to misses",
			zap.String("addr", cfg.Cache.Addr),
			zap.Error(err),
		)
		return cache.NewWithClient(redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}), cfg.Cache)
	}
	return c
}

// rates merges configured pricing over the built-in defaults.
func rates() cost.Rates {
	r := cost.DefaultRates()
	for model, p := range cfg.Pricing.Anthropic {
		r.Anthropic[model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	if cfg.Pricing.Jina.PerMTok > 0 {
		r.Jina.PerMTok = cfg.Pricing.Jina.PerMTok
	}
	if cfg.Pricing.Perplexity.PerQuery > 0 {
		r.Perplexity.PerQuery = cfg.Pricing.Perplexity.PerQuery
	}
	return r
}

// initPipeline sets up the store, cache, API clients, agents, and the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (INTEL_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	c := initCache(ctx)
	costs := cost.NewCalculator(rates())

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		jina.WithEmbedBaseURL(cfg.Jina.EmbedBaseURL),
	)
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)

	compiler := dossier.New(jinaClient, firecrawlClient, cfg.Dossier)
	agentList := []agents.Agent{
		agents.NewDossierAgent(compiler, anthropicClient, cfg.Anthropic, costs, cfg.Agents.Timeout),
		agents.NewPerplexityAgent(perplexityClient, cfg.Perplexity.ResearchModel, costs, cfg.Agents.Timeout),
		agents.NewAnthropicAgent(anthropicClient, cfg.Anthropic, costs, cfg.Agents.Timeout),
	}

	engine := reconcile.NewEngine(anthropicClient, cfg.Anthropic, cfg.Reconcile, costs)
	embedder := embed.New(jinaClient, cfg.Jina.EmbeddingModel, st, costs)
	orch := orchestrator.New(st, c, agentList, engine, embedder, cfg.Server.ReportBaseURL)

	return &pipelineEnv{
		Store:        st,
		Cache:        c,
		Service:      orchestrator.NewService(st, c),
		Orchestrator: orch,
		Worker:       queue.NewWorker(st, orch, cfg.Worker),
	}, nil
}
