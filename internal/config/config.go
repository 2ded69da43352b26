package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/skillgen/internal/model"
)

// Config holds the full application configuration. It is loaded once and
// treated as read-only for the rest of the process.
type Config struct {
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Bedrock    BedrockConfig    `yaml:"bedrock" mapstructure:"bedrock"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Sandbox    SandboxConfig    `yaml:"sandbox" mapstructure:"sandbox"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GenerationConfig selects and tunes the generation backend.
type GenerationConfig struct {
	Provider          string      `yaml:"provider" mapstructure:"provider"`
	DefaultModel      string      `yaml:"default_model" mapstructure:"default_model"`
	Models            StageModels `yaml:"models" mapstructure:"models"`
	MaxTokens         int64       `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64     `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int         `yaml:"burst" mapstructure:"burst"`
	MaxAttempts       int         `yaml:"max_attempts" mapstructure:"max_attempts"`
	CircuitThreshold  int         `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs  int         `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// StageModels holds per-stage model overrides. Empty means DefaultModel.
type StageModels struct {
	Extract    string `yaml:"extract" mapstructure:"extract"`
	Synthesize string `yaml:"synthesize" mapstructure:"synthesize"`
	Review     string `yaml:"review" mapstructure:"review"`
	Probe      string `yaml:"probe" mapstructure:"probe"`
}

// ModelFor returns the configured model for a stage, falling back to the
// default model. An empty result lets the backend choose.
func (g GenerationConfig) ModelFor(stage string) string {
	var m string
	switch stage {
	case "extract":
		m = g.Models.Extract
	case "synthesize":
		m = g.Models.Synthesize
	case "review":
		m = g.Models.Review
	case "probe":
		m = g.Models.Probe
	}
	if m == "" {
		m = g.DefaultModel
	}
	return m
}

// AnthropicConfig holds direct Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BedrockConfig holds AWS Bedrock settings for Anthropic models.
type BedrockConfig struct {
	Region  string `yaml:"region" mapstructure:"region"`
	Profile string `yaml:"profile" mapstructure:"profile"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OpenAIConfig holds settings for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// Instruction is custom text injected into one stage's prompt.
type Instruction struct {
	Text string `yaml:"text" mapstructure:"text"`
	Mode string `yaml:"mode" mapstructure:"mode"` // append | overwrite
}

// PipelineConfig controls the attempt loop.
type PipelineConfig struct {
	MaxRetries         int                    `yaml:"max_retries" mapstructure:"max_retries"`
	ParallelExtraction bool                   `yaml:"parallel_extraction" mapstructure:"parallel_extraction"`
	Review             bool                   `yaml:"review" mapstructure:"review"`
	RunTimeout         time.Duration          `yaml:"run_timeout" mapstructure:"run_timeout"`
	Instructions       map[string]Instruction `yaml:"instructions" mapstructure:"instructions"`
}

// ValidationConfig controls how synthesized patterns are validated.
type ValidationConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	Mode              string `yaml:"mode" mapstructure:"mode"`
	AdaptiveThreshold int    `yaml:"adaptive_threshold" mapstructure:"adaptive_threshold"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPatterns       int    `yaml:"max_patterns" mapstructure:"max_patterns"`
}

// SandboxConfig controls probe execution.
type SandboxConfig struct {
	Strategy         string            `yaml:"strategy" mapstructure:"strategy"`
	ContainerRuntime string            `yaml:"container_runtime" mapstructure:"container_runtime"`
	Timeout          time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	KillGrace        time.Duration     `yaml:"kill_grace" mapstructure:"kill_grace"`
	Network          bool              `yaml:"network" mapstructure:"network"`
	Memory           string            `yaml:"memory" mapstructure:"memory"`
	CPUs             string            `yaml:"cpus" mapstructure:"cpus"`
	PidsLimit        int               `yaml:"pids_limit" mapstructure:"pids_limit"`
	WorkRoot         string            `yaml:"work_root" mapstructure:"work_root"`
	KeepFailed       bool              `yaml:"keep_failed" mapstructure:"keep_failed"`
	MaxOutputBytes   int               `yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
	Images           map[string]string `yaml:"images" mapstructure:"images"`
	Runtime          string            `yaml:"runtime" mapstructure:"runtime"`
}

// PricingConfig holds per-model token prices in USD per million tokens.
type PricingConfig struct {
	Models map[string]ModelPrice `yaml:"models" mapstructure:"models"`
}

// ModelPrice is the input/output price for one model.
type ModelPrice struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// StoreConfig configures the optional run ledger.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the read-only ledger API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig controls the alert checker run alongside the ledger API.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
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
	v.SetEnvPrefix("SKILLGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("generation.provider", "anthropic")
	v.SetDefault("generation.max_tokens", 8192)
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.requests_per_second", 2.0)
	v.SetDefault("generation.burst", 3)
	v.SetDefault("generation.max_attempts", 3)
	v.SetDefault("generation.circuit_threshold", 5)
	v.SetDefault("generation.circuit_reset_secs", 30)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.parallel_extraction", true)
	v.SetDefault("pipeline.review", true)
	v.SetDefault("pipeline.run_timeout", "30m")
	v.SetDefault("validation.enabled", true)
	v.SetDefault("validation.mode", string(model.ValidationAdaptive))
	v.SetDefault("validation.adaptive_threshold", 2)
	v.SetDefault("validation.concurrency", 1)
	v.SetDefault("validation.max_patterns", 0)
	v.SetDefault("sandbox.strategy", "container")
	v.SetDefault("sandbox.container_runtime", "docker")
	v.SetDefault("sandbox.timeout", "60s")
	v.SetDefault("sandbox.kill_grace", "2s")
	v.SetDefault("sandbox.network", true)
	v.SetDefault("sandbox.memory", "512m")
	v.SetDefault("sandbox.cpus", "1")
	v.SetDefault("sandbox.pids_limit", 256)
	v.SetDefault("sandbox.keep_failed", false)
	v.SetDefault("sandbox.max_output_bytes", 64*1024)
	v.SetDefault("sandbox.images.python", "python:3.12-slim")
	v.SetDefault("sandbox.images.node", "node:22-slim")
	v.SetDefault("sandbox.images.go", "golang:1.25")
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "skillgen.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks enumerated options and numeric bounds.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Generation.Provider) {
	case "anthropic", "bedrock", "gemini", "openai":
	default:
		return eris.Errorf("config: unknown generation.provider %q", c.Generation.Provider)
	}
	if c.Pipeline.MaxRetries < 0 {
		return eris.Errorf("config: pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if !model.ValidationMode(c.Validation.Mode).Valid() {
		return eris.Errorf("config: unknown validation.mode %q", c.Validation.Mode)
	}
	if c.Validation.AdaptiveThreshold < 1 {
		return eris.Errorf("config: validation.adaptive_threshold must be >= 1, got %d", c.Validation.AdaptiveThreshold)
	}
	switch c.Sandbox.Strategy {
	case "container", "local":
	default:
		return eris.Errorf("config: unknown sandbox.strategy %q", c.Sandbox.Strategy)
	}
	switch c.Sandbox.ContainerRuntime {
	case "docker", "podman", "nerdctl":
	default:
		return eris.Errorf("config: unknown sandbox.container_runtime %q", c.Sandbox.ContainerRuntime)
	}
	if c.Sandbox.Timeout <= 0 {
		return eris.New("config: sandbox.timeout must be positive")
	}
	switch c.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		return eris.Errorf("config: monitoring.failure_rate_threshold must be within [0, 1], got %v", c.Monitoring.FailureRateThreshold)
	}
	for stage, ins := range c.Pipeline.Instructions {
		switch ins.Mode {
		case "", "append", "overwrite":
		default:
			return eris.Errorf("config: pipeline.instructions.%s.mode must be append or overwrite, got %q", stage, ins.Mode)
		}
	}
	return nil
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
