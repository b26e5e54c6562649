package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Dossier    DossierConfig    `yaml:"dossier" mapstructure:"dossier"`
	Agents     AgentsConfig     `yaml:"agents" mapstructure:"agents"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// MonitoringConfig configures queue health checks and webhook alerting.
type MonitoringConfig struct {
	Enabled              bool          `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackHours        int           `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64       `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	BacklogThreshold     int           `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the Redis cache layer.
type CacheConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	Password        string        `yaml:"password" mapstructure:"password"`
	DB              int           `yaml:"db" mapstructure:"db"`
	EntityStatusTTL time.Duration `yaml:"entity_status_ttl" mapstructure:"entity_status_ttl"`
	ReportTTL       time.Duration `yaml:"report_ttl" mapstructure:"report_ttl"`
}

// JinaConfig holds Jina AI Reader/Search/Embeddings settings.
type JinaConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL  string `yaml:"search_base_url" mapstructure:"search_base_url"`
	EmbedBaseURL   string `yaml:"embed_base_url" mapstructure:"embed_base_url"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback search path).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Model         string `yaml:"model" mapstructure:"model"`
	ResearchModel string `yaml:"research_model" mapstructure:"research_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	SonnetModel     string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	OpusModel       string `yaml:"opus_model" mapstructure:"opus_model"`
	ResearchTokens  int64  `yaml:"research_tokens" mapstructure:"research_tokens"`
	SynthesisTokens int64  `yaml:"synthesis_tokens" mapstructure:"synthesis_tokens"`
}

// DossierConfig bounds the dossier compiler.
type DossierConfig struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
	MinSourceChars int           `yaml:"min_source_chars" mapstructure:"min_source_chars"`
	MaxSourceChars int           `yaml:"max_source_chars" mapstructure:"max_source_chars"`
	MaxTotalChars  int           `yaml:"max_total_chars" mapstructure:"max_total_chars"`
	SearchTimeout  time.Duration `yaml:"search_timeout" mapstructure:"search_timeout"`
}

// AgentsConfig configures the research agents.
type AgentsConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ReconcileConfig configures the reconciliation engine.
type ReconcileConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
}

// WorkerConfig configures the job worker pool.
type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	LockDuration  time.Duration `yaml:"lock_duration" mapstructure:"lock_duration"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port          int    `yaml:"port" mapstructure:"port"`
	ReportBaseURL string `yaml:"report_base_url" mapstructure:"report_base_url"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaPricing             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaPricing holds Jina Reader/Embeddings pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secret keys get empty defaults so AutomaticEnv picks them
	// up without explicit BindEnv calls.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.entity_status_ttl", 5*time.Minute)
	v.SetDefault("cache.report_ttl", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.report_base_url", "https://app.sellsadvisors.com/reports")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.embed_base_url", "https://api.jina.ai")
	v.SetDefault("jina.embedding_model", "jina-embeddings-v3")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.research_model", "sonar-deep-research")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.opus_model", "claude-opus-4-6")
	v.SetDefault("anthropic.research_tokens", 8192)
	v.SetDefault("anthropic.synthesis_tokens", 16384)
	v.SetDefault("dossier.batch_size", 3)
	v.SetDefault("dossier.batch_delay", 500*time.Millisecond)
	v.SetDefault("dossier.min_source_chars", 200)
	v.SetDefault("dossier.max_source_chars", 8000)
	v.SetDefault("dossier.max_total_chars", 60000)
	v.SetDefault("dossier.search_timeout", 30*time.Second)
	v.SetDefault("agents.timeout", 10*time.Minute)
	v.SetDefault("reconcile.max_attempts", 3)
	v.SetDefault("reconcile.initial_backoff", 2*time.Second)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.lock_duration", 15*time.Minute)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.sweep_interval", time.Minute)
	v.SetDefault("monitoring.check_interval", 5*time.Minute)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 100.0)
	v.SetDefault("monitoring.backlog_threshold", 50)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
