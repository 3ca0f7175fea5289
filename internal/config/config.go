package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models freshcheck.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Analysis AnalysisConfig `yaml:"analysis"`
	LLM      LLMConfig      `yaml:"llm"`
	Research ResearchConfig `yaml:"research"`
	Polling  PollingConfig  `yaml:"polling"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BasePath        string        `yaml:"base_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// DevLogin enables POST /auth/dev/login. Never enable in production.
	DevLogin bool `yaml:"dev_login"`
}

type AnalysisConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxRunDuration  time.Duration `yaml:"max_run_duration"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	MaxContentChars int           `yaml:"max_content_chars"`
	UserAgent       string        `yaml:"user_agent"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint used for detection.
type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ResearchConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxSources int           `yaml:"max_sources"`
}

// PollingConfig is the default wait policy used by `run start --wait` and the SDK.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type WebhookConfig struct {
	URL    string        `yaml:"url"`
	Secret string        `yaml:"secret"`
	Events []string      `yaml:"events"`
	Poll   time.Duration `yaml:"poll"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with freshcheck config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Analysis.Concurrency < 1 {
		return fmt.Errorf("config.analysis.concurrency must be >= 1")
	}
	if c.Analysis.MaxRunDuration <= 0 {
		return fmt.Errorf("config.analysis.max_run_duration must be positive")
	}
	if c.Analysis.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Analysis.SweepSchedule); err != nil {
			return fmt.Errorf("config.analysis.sweep_schedule: %w", err)
		}
	}
	if c.Analysis.MaxContentChars < 0 {
		return fmt.Errorf("config.analysis.max_content_chars must be >= 0")
	}
	for name, endpoint := range map[string]string{"llm": c.LLM.Endpoint, "research": c.Research.Endpoint, "webhooks": c.Webhooks.URL} {
		if endpoint == "" {
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.%s endpoint %q is not an absolute url", name, endpoint)
		}
	}
	if c.Research.MaxSources < 0 {
		return fmt.Errorf("config.research.max_sources must be >= 0")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("config.polling.interval must be positive")
	}
	if c.Polling.MaxInterval > 0 && c.Polling.MaxInterval < c.Polling.Interval {
		return fmt.Errorf("config.polling.max_interval must be >= interval")
	}
	if c.Polling.Multiplier != 0 && c.Polling.Multiplier < 1 {
		return fmt.Errorf("config.polling.multiplier must be >= 1")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("config.metrics.path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "freshcheck.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  shutdown_timeout: 10s

auth:
  jwt_secret: ""
  issuer: freshcheck
  audience: ""
  token_ttl: 24h
  dev_login: false

analysis:
  concurrency: 4
  max_run_duration: 10m
  sweep_schedule: "*/5 * * * *"
  fetch_timeout: 20s
  max_content_chars: 8000
  user_agent: freshcheck/1.0

llm:
  endpoint: https://api.openai.com/v1/chat/completions
  model: gpt-4o-mini
  api_key: ""
  timeout: 60s

research:
  endpoint: https://api.perplexity.ai/chat/completions
  model: sonar
  api_key: ""
  timeout: 60s
  max_sources: 5

polling:
  interval: 2s
  max_interval: 15s
  multiplier: 1.5
  max_duration: 10m

webhooks:
  url: ""
  secret: ""
  events: [run.completed, run.failed]
  poll: 2s

logging:
  level: info
  json: false

metrics:
  enabled: true
  path: /metrics
`
