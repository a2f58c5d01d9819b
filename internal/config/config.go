package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/scenecrew/internal/otel"
)

// LLMConfig selects the model backend used by every agent.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible",
	// "openrouter" or "none". "none" forces the offline responder.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	// AgentModels overrides Model for individual agents, keyed by agent name.
	AgentModels map[string]string `yaml:"agent_models"`
}

type QueueConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
	PollAttempts   int `yaml:"poll_attempts"`
	RecentLimit    int `yaml:"recent_limit"`
}

type OrchestratorConfig struct {
	PausePollMS  int  `yaml:"pause_poll_ms"`
	ReviewEvery  int  `yaml:"review_every"`
	ExpandPrompt bool `yaml:"expand_prompt"`
	VisualCheck  bool `yaml:"visual_check"`
	Trailer      bool `yaml:"trailer"`
}

type AutoDebugConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ClassifierConfig holds the prompt-complexity thresholds. These are
// hot-reloaded by serve.
type ClassifierConfig struct {
	MaxSimpleWords int      `yaml:"max_simple_words"`
	MaxSimpleItems int      `yaml:"max_simple_items"`
	ScopeWords     []string `yaml:"scope_words"`
}

type MemoryConfig struct {
	MaxPerTurn      int `yaml:"max_per_turn"`
	MaxContentChars int `yaml:"max_content_chars"`
}

type RelayConfig struct {
	RemoteControlURL string `yaml:"remote_control_url"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

type SweeperConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Schedule          string `yaml:"schedule"`
	StaleAfterMinutes int    `yaml:"stale_after_minutes"`
}

// RateLimitConfig bounds API requests per token (or remote address).
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	LogLevel  string `yaml:"log_level"`
	AuthToken string `yaml:"auth_token"`
	// AllowOrigins lists browser origins accepted on /ws. Empty means local only.
	AllowOrigins []string        `yaml:"allow_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`

	LLM          LLMConfig          `yaml:"llm"`
	Queue        QueueConfig        `yaml:"queue"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	AutoDebug    AutoDebugConfig    `yaml:"autodebug"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Memory       MemoryConfig       `yaml:"memory"`
	Relay        RelayConfig        `yaml:"relay"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	Telemetry    otel.Config        `yaml:"telemetry"`

	// FirstRun is set when config.yaml did not exist.
	FirstRun bool `yaml:"-"`
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMS) * time.Millisecond
}

func (c Config) PausePollInterval() time.Duration {
	return time.Duration(c.Orchestrator.PausePollMS) * time.Millisecond
}

func (c Config) RelayPollInterval() time.Duration {
	return time.Duration(c.Relay.PollIntervalMS) * time.Millisecond
}

func (c Config) RelayTimeout() time.Duration {
	return time.Duration(c.Relay.TimeoutSeconds) * time.Second
}

func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Sweeper.StaleAfterMinutes) * time.Minute
}

// LLMProviderAPIKey returns the API key for provider. Env vars win over
// config.yaml.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string][]string{
		"google":            {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic":         {"ANTHROPIC_API_KEY"},
		"openai":            {"OPENAI_API_KEY"},
		"openai_compatible": {"OPENAI_API_KEY"},
		"openrouter":        {"OPENROUTER_API_KEY"},
	}
	for _, envVar := range envMap[provider] {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return c.LLM.APIKey
}

// ResolveLLM returns the effective provider, default model and key.
func (c Config) ResolveLLM() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	model = c.LLM.Model
	if model == "" {
		model = defaultModels[provider]
	}
	return provider, model, c.LLMProviderAPIKey(provider)
}

// ModelFor returns the model an agent should use.
func (c Config) ModelFor(agent string) string {
	if m := c.LLM.AgentModels[agent]; m != "" {
		return m
	}
	_, model, _ := c.ResolveLLM()
	return model
}

var defaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5",
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
}

const configFile = "config.yaml"

// ConfigPath returns the path to config.yaml within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, configFile)
}

// Fingerprint returns a stable hash of the settings that change behavior.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|llm=%s/%s|poll=%d*%d|debug=%d|cls=%d/%d/%v",
		c.BindAddr, c.LLM.Provider, c.LLM.Model,
		c.Queue.PollIntervalMS, c.Queue.PollAttempts, c.AutoDebug.MaxAttempts,
		c.Classifier.MaxSimpleWords, c.Classifier.MaxSimpleItems, c.Classifier.ScopeWords)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		LLM:      LLMConfig{Provider: "google"},
		Queue: QueueConfig{
			PollIntervalMS: 2000,
			PollAttempts:   15,
			RecentLimit:    20,
		},
		Orchestrator: OrchestratorConfig{
			PausePollMS:  2000,
			ReviewEvery:  2,
			ExpandPrompt: true,
		},
		AutoDebug: AutoDebugConfig{MaxAttempts: 3},
		Classifier: ClassifierConfig{
			MaxSimpleWords: 14,
			MaxSimpleItems: 2,
			ScopeWords:     []string{"village", "city", "town", "level", "world", "game", "project", "environment"},
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 120, BurstSize: 20},
		Memory:    MemoryConfig{MaxPerTurn: 3, MaxContentChars: 300},
		Relay: RelayConfig{
			RemoteControlURL: "http://localhost:30010",
			PollIntervalMS:   1000,
			TimeoutSeconds:   30,
		},
		Sweeper: SweeperConfig{
			Enabled:           true,
			Schedule:          "*/5 * * * *",
			StaleAfterMinutes: 10,
		},
	}
}

// HomeDir returns SCENECREW_HOME or ~/.scenecrew.
func HomeDir() string {
	if override := os.Getenv("SCENECREW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".scenecrew")
}

// Load reads config from HomeDir().
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads <homeDir>/config.yaml over the defaults, then applies env
// overrides. A missing file is not an error.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create scenecrew home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	switch {
	case os.IsNotExist(err):
		cfg.FirstRun = true
	case err != nil:
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	case len(data) > 0:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.BindAddr == "" {
		cfg.BindAddr = def.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Queue.PollIntervalMS <= 0 {
		cfg.Queue.PollIntervalMS = def.Queue.PollIntervalMS
	}
	if cfg.Queue.PollAttempts <= 0 {
		cfg.Queue.PollAttempts = def.Queue.PollAttempts
	}
	if cfg.Queue.RecentLimit <= 0 {
		cfg.Queue.RecentLimit = def.Queue.RecentLimit
	}
	if cfg.Orchestrator.PausePollMS <= 0 {
		cfg.Orchestrator.PausePollMS = def.Orchestrator.PausePollMS
	}
	if cfg.Orchestrator.ReviewEvery < 0 {
		cfg.Orchestrator.ReviewEvery = 0
	}
	if cfg.AutoDebug.MaxAttempts <= 0 {
		cfg.AutoDebug.MaxAttempts = def.AutoDebug.MaxAttempts
	}
	if cfg.Classifier.MaxSimpleWords <= 0 {
		cfg.Classifier.MaxSimpleWords = def.Classifier.MaxSimpleWords
	}
	if cfg.Classifier.MaxSimpleItems <= 0 {
		cfg.Classifier.MaxSimpleItems = def.Classifier.MaxSimpleItems
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = def.RateLimit.RequestsPerMinute
	}
	if cfg.RateLimit.BurstSize <= 0 {
		cfg.RateLimit.BurstSize = def.RateLimit.BurstSize
	}
	if cfg.Memory.MaxPerTurn <= 0 {
		cfg.Memory.MaxPerTurn = def.Memory.MaxPerTurn
	}
	if cfg.Memory.MaxContentChars <= 0 {
		cfg.Memory.MaxContentChars = def.Memory.MaxContentChars
	}
	cfg.Relay.RemoteControlURL = strings.TrimRight(strings.TrimSpace(cfg.Relay.RemoteControlURL), "/")
	if cfg.Relay.RemoteControlURL == "" {
		cfg.Relay.RemoteControlURL = def.Relay.RemoteControlURL
	}
	if cfg.Relay.PollIntervalMS <= 0 {
		cfg.Relay.PollIntervalMS = def.Relay.PollIntervalMS
	}
	if cfg.Relay.TimeoutSeconds <= 0 {
		cfg.Relay.TimeoutSeconds = def.Relay.TimeoutSeconds
	}
	if strings.TrimSpace(cfg.Sweeper.Schedule) == "" {
		cfg.Sweeper.Schedule = def.Sweeper.Schedule
	}
	if cfg.Sweeper.StaleAfterMinutes <= 0 {
		cfg.Sweeper.StaleAfterMinutes = def.Sweeper.StaleAfterMinutes
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SCENECREW_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("SCENECREW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SCENECREW_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("SCENECREW_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("SCENECREW_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("SCENECREW_POLL_ATTEMPTS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.PollAttempts = v
		}
	}
	if raw := os.Getenv("SCENECREW_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.PollIntervalMS = v
		}
	}
	if raw := os.Getenv("SCENECREW_DEBUG_MAX_ATTEMPTS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.AutoDebug.MaxAttempts = v
		}
	}
	if raw := os.Getenv("UE5_REMOTE_CONTROL_URL"); raw != "" {
		cfg.Relay.RemoteControlURL = raw
	}
}
