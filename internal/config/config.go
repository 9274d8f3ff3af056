package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	URA       URAConfig       `yaml:"ura" mapstructure:"ura"`
	PropNex   PropNexConfig   `yaml:"propnex" mapstructure:"propnex"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Benchmark BenchmarkConfig `yaml:"benchmark" mapstructure:"benchmark"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	AdminToken  string   `yaml:"admin_token" mapstructure:"admin_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// URAConfig configures the government transaction feed.
type URAConfig struct {
	AccessKey string  `yaml:"access_key" mapstructure:"access_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	TokenURL  string  `yaml:"token_url" mapstructure:"token_url"`
	Batches   int     `yaml:"batches" mapstructure:"batches"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PropNexConfig configures the brokerage feed.
type PropNexConfig struct {
	Token         string  `yaml:"token" mapstructure:"token"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	ProjectStart  int     `yaml:"project_start" mapstructure:"project_start"`
	ProjectEnd    int     `yaml:"project_end" mapstructure:"project_end"`
	LookbackYears int     `yaml:"lookback_years" mapstructure:"lookback_years"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings for screenshot extraction.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ReconcileConfig tunes chunk sizes, retries and deadlines of ingestion runs.
type ReconcileConfig struct {
	QueryChunk       int `yaml:"query_chunk" mapstructure:"query_chunk"`
	WriteChunk       int `yaml:"write_chunk" mapstructure:"write_chunk"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	RunTimeoutMins   int `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// FetchTimeout returns the per-call deadline for feed requests.
func (r ReconcileConfig) FetchTimeout() time.Duration {
	return time.Duration(r.FetchTimeoutSecs) * time.Second
}

// RunTimeout returns the wall-clock ceiling for a whole ingestion run.
func (r ReconcileConfig) RunTimeout() time.Duration {
	return time.Duration(r.RunTimeoutMins) * time.Minute
}

// BenchmarkConfig configures the SORA benchmark snapshot cache.
type BenchmarkConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotifyConfig configures valuation e-mails.
type NotifyConfig struct {
	PostmarkToken string `yaml:"postmark_token" mapstructure:"postmark_token"`
	From          string `yaml:"from" mapstructure:"from"`
	CC            string `yaml:"cc" mapstructure:"cc"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// Variables already present in the environment win over .env entries.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.propsync")

	// Environment
	v.SetEnvPrefix("PROPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have empty defaults so AutomaticEnv can bind them on Unmarshal.
	for _, key := range []string{
		"store.database_url", "server.admin_token", "ura.access_key",
		"propnex.token", "anthropic.key", "notify.postmark_token", "notify.from", "notify.cc",
	} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("ura.base_url", "https://eservice.ura.gov.sg/uraDataService/invokeUraDS/v1")
	v.SetDefault("ura.token_url", "https://eservice.ura.gov.sg/uraDataService/insertNewToken/v1")
	v.SetDefault("ura.batches", 4)
	v.SetDefault("ura.rate_limit", 1.0)
	v.SetDefault("propnex.base_url", "https://investment-production.propnex.net/v1")
	v.SetDefault("propnex.project_start", 1)
	v.SetDefault("propnex.project_end", 4300)
	v.SetDefault("propnex.lookback_years", 10)
	v.SetDefault("propnex.rate_limit", 2.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.concurrency", 2)
	v.SetDefault("reconcile.query_chunk", 200)
	v.SetDefault("reconcile.write_chunk", 200)
	v.SetDefault("reconcile.fetch_timeout_secs", 60)
	v.SetDefault("reconcile.run_timeout_mins", 180)
	v.SetDefault("reconcile.max_attempts", 3)
	v.SetDefault("reconcile.initial_backoff_ms", 500)
	v.SetDefault("reconcile.max_backoff_ms", 30000)
	v.SetDefault("reconcile.breaker_threshold", 10)
	v.SetDefault("benchmark.url", "https://housingloansg.com/hl/charts/sibor-sor-daily-chart")
	v.SetDefault("benchmark.ttl_hours", 6)
	v.SetDefault("benchmark.timeout_secs", 15)

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
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
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
