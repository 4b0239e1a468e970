// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/elara-sec/verdict/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Collectors  CollectorsConfig  `mapstructure:"collectors" yaml:"collectors"`
	Intel       IntelConfig       `mapstructure:"intel" yaml:"intel"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	LLM         LLMRouterConfig   `mapstructure:"llm" yaml:"llm"`
	Explainer   ExplainerConfig   `mapstructure:"explainer" yaml:"explainer"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the scan job queue and worker pool.
type EngineConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	ScanTimeout       time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	MaxJobAttempts    int           `mapstructure:"max_job_attempts" yaml:"max_job_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// CollectorsConfig tunes the evidence collector fan-out. CheckTimeout applies
// per collector; OuterTimeout bounds the whole collector phase.
type CollectorsConfig struct {
	OuterTimeout time.Duration `mapstructure:"outer_timeout" yaml:"outer_timeout"`
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
	DNSTimeout   time.Duration `mapstructure:"dns_timeout" yaml:"dns_timeout"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	Resolver     string        `mapstructure:"resolver" yaml:"resolver"`

	// DKIMSelectors are probed by the email-auth collector when the caller
	// supplies none.
	DKIMSelectors []string `mapstructure:"dkim_selectors" yaml:"dkim_selectors"`
}

// IntelConfig configures the threat-intel aggregator.
type IntelConfig struct {
	Sources          []schemas.SourceConfig `mapstructure:"sources" yaml:"sources"`
	ChunkSize        int                    `mapstructure:"chunk_size" yaml:"chunk_size"`
	GracePeriod      time.Duration          `mapstructure:"grace_period" yaml:"grace_period"`
	FetchTimeout     time.Duration          `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RequestsPerSec   float64                `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	BloomCapacity    uint                   `mapstructure:"bloom_capacity" yaml:"bloom_capacity"`
	BloomErrorRate   float64                `mapstructure:"bloom_error_rate" yaml:"bloom_error_rate"`
}

// PipelineConfig configures stage orchestration and branch correction.
type PipelineConfig struct {
	// Stage2Threshold gates the expensive deep analysis: Stage-2 runs only
	// when Stage-1 confidence falls below it.
	Stage2Threshold float64 `mapstructure:"stage2_threshold" yaml:"stage2_threshold"`

	// Stage1Weight / Stage2Weight define the fixed combination rule when
	// both stages ran. Stage-2 dominates since it saw more evidence.
	Stage1Weight float64 `mapstructure:"stage1_weight" yaml:"stage1_weight"`
	Stage2Weight float64 `mapstructure:"stage2_weight" yaml:"stage2_weight"`

	// ConsensusModels is how many parallel AI judgments Stage-2 requests.
	ConsensusModels int `mapstructure:"consensus_models" yaml:"consensus_models"`

	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	RenderEnabled bool          `mapstructure:"render_enabled" yaml:"render_enabled"`
}

// CalibrationConfig configures the conformal calibrator.
type CalibrationConfig struct {
	// Alpha is the miscoverage rate; 0.10 yields a 90% coverage interval.
	Alpha float64 `mapstructure:"alpha" yaml:"alpha"`

	// Quantiles maps alpha levels to nonconformity quantiles learned on a
	// held-out calibration set. Missing levels fall back to built-ins.
	Quantiles map[string]float64 `mapstructure:"quantiles" yaml:"quantiles"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderNone   LLMProvider = "none"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ExplainerConfig configures the consensus/explainer stage.
type ExplainerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DefaultLanguage string        `mapstructure:"default_language" yaml:"default_language"`
}

// ServerConfig configures the HTTP surface of `verdict serve`.
type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr" yaml:"listen_addr"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "verdict")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.worker_concurrency", 8)
	v.SetDefault("engine.scan_timeout", "60s")
	v.SetDefault("engine.max_job_attempts", 3)
	v.SetDefault("engine.retry_base_delay", "2s")

	// -- Collectors --
	v.SetDefault("collectors.outer_timeout", "10s")
	v.SetDefault("collectors.check_timeout", "5s")
	v.SetDefault("collectors.dns_timeout", "3s")
	v.SetDefault("collectors.http_timeout", "8s")
	v.SetDefault("collectors.resolver", "")
	v.SetDefault("collectors.dkim_selectors", []string{"default", "google", "selector1"})

	// -- Intel --
	v.SetDefault("intel.chunk_size", 1000)
	v.SetDefault("intel.grace_period", "168h") // 7 days
	v.SetDefault("intel.fetch_timeout", "30s")
	v.SetDefault("intel.requests_per_sec", 2.0)
	v.SetDefault("intel.bloom_capacity", 1_000_000)
	v.SetDefault("intel.bloom_error_rate", 0.001)

	// -- Pipeline --
	v.SetDefault("pipeline.stage2_threshold", 0.75)
	v.SetDefault("pipeline.stage1_weight", 0.3)
	v.SetDefault("pipeline.stage2_weight", 0.7)
	v.SetDefault("pipeline.consensus_models", 3)
	v.SetDefault("pipeline.render_timeout", "20s")
	v.SetDefault("pipeline.render_enabled", true)

	// -- Calibration --
	v.SetDefault("calibration.alpha", 0.10)

	// -- LLM --
	v.SetDefault("llm.fast.provider", "gemini")
	v.SetDefault("llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("llm.fast.api_timeout", "30s")
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.fast.max_tokens", 2048)
	v.SetDefault("llm.powerful.provider", "gemini")
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", "60s")
	v.SetDefault("llm.powerful.temperature", 0.2)
	v.SetDefault("llm.powerful.max_tokens", 4096)

	// -- Explainer --
	v.SetDefault("explainer.enabled", true)
	v.SetDefault("explainer.timeout", "30s")
	v.SetDefault("explainer.default_language", "en")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.fast.api_key", "VERDICT_LLM_API_KEY")
	v.BindEnv("llm.powerful.api_key", "VERDICT_LLM_API_KEY")
	v.BindEnv("database.url", "VERDICT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.Fast.APIKey == "" {
		cfg.LLM.Fast.APIKey = os.Getenv("VERDICT_LLM_API_KEY")
		cfg.LLM.Powerful.APIKey = cfg.LLM.Fast.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.MaxJobAttempts <= 0 {
		return fmt.Errorf("engine.max_job_attempts must be a positive integer")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration invalid: %w", err)
	}
	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration configuration invalid: %w", err)
	}
	if err := c.Intel.Validate(); err != nil {
		return fmt.Errorf("intel configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the pipeline stage settings.
func (p *PipelineConfig) Validate() error {
	if p.Stage2Threshold < 0 || p.Stage2Threshold > 1 {
		return fmt.Errorf("stage2_threshold must be in [0, 1]")
	}
	if p.Stage1Weight < 0 || p.Stage2Weight < 0 {
		return fmt.Errorf("stage weights must be non-negative")
	}
	sum := p.Stage1Weight + p.Stage2Weight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("stage weights must sum to 1.0, got %.3f", sum)
	}
	if p.ConsensusModels <= 0 {
		return fmt.Errorf("consensus_models must be a positive integer")
	}
	return nil
}

// Validate checks the calibration settings.
func (c *CalibrationConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0, 1)")
	}
	return nil
}

// Validate checks the intel aggregator settings.
func (i *IntelConfig) Validate() error {
	if i.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be a positive integer")
	}
	for _, src := range i.Sources {
		if src.Name == "" {
			return fmt.Errorf("every intel source requires a name")
		}
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("intel source %q is enabled but has no url", src.Name)
		}
		if src.Enabled && src.SyncFrequencyMinutes <= 0 {
			return fmt.Errorf("intel source %q requires sync_frequency_minutes > 0", src.Name)
		}
	}
	return nil
}
