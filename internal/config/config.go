package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/logtriage/internal/ingest"
	"github.com/h1v3-io/logtriage/internal/logsource"
)

// Config is the top-level logtriage configuration.
type Config struct {
	DataDir         string                           `json:"data_dir"`
	LogSetDir       string                           `json:"log_set_dir,omitempty"` // default <data_dir>/log_sets
	DefaultProvider string                           `json:"default_provider,omitempty"`
	Providers       map[string]ProviderConfig        `json:"providers"`
	Agent           AgentConfig                      `json:"agent"`
	Sessions        SessionConfig                    `json:"sessions"`
	Alerts          AlertConfig                      `json:"alerts"`
	ChatOps         ChatOpsConfig                    `json:"chatops"`
	API             APIConfig                        `json:"api"`
	Ingest          map[string]ingest.EndpointConfig `json:"ingest,omitempty"`
	// Schedules maps log set IDs to cron specs for unattended investigations.
	Schedules map[string]string `json:"schedules,omitempty"`
}

// ProviderConfig holds LLM provider settings. The map key is the name
// requests refer to; Type defaults to that name.
type ProviderConfig struct {
	Type      string  `json:"type,omitempty"` // "gemini", "anthropic", "openai" or "perplexity"
	APIKey    string  `json:"api_key"`
	BaseURL   string  `json:"base_url,omitempty"`
	Model     string  `json:"model,omitempty"`
	RateLimit float64 `json:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	Burst     int     `json:"burst,omitempty"`
}

// AgentConfig tunes the investigation loop.
type AgentConfig struct {
	MaxIterations  int           `json:"max_iterations,omitempty"`
	IterationDelay time.Duration `json:"iteration_delay,omitempty"`
	BackoffInitial time.Duration `json:"backoff_initial,omitempty"`
	TokenBudget    int           `json:"token_budget,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	InitialLogs    int           `json:"initial_logs,omitempty"`
}

// SessionConfig holds chat session settings.
type SessionConfig struct {
	InactivityTimeout time.Duration `json:"inactivity_timeout,omitempty"`
	ReapSchedule      string        `json:"reap_schedule,omitempty"`
}

// AlertConfig selects where alertTeam delivers.
type AlertConfig struct {
	Console         bool   `json:"console"`
	SlackWebhookURL string `json:"slack_webhook_url,omitempty"`
	SlackBotToken   string `json:"slack_bot_token,omitempty"`
	SlackChannel    string `json:"slack_channel,omitempty"`
}

// ChatOpsConfig enables the Slack chat front-end (Socket Mode).
type ChatOpsConfig struct {
	SlackBotToken string   `json:"slack_bot_token,omitempty"`
	SlackAppToken string   `json:"slack_app_token,omitempty"`
	Channels      []string `json:"channels,omitempty"`
}

// Enabled reports whether any Slack token is set.
func (c ChatOpsConfig) Enabled() bool {
	return c.SlackBotToken != "" || c.SlackAppToken != ""
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Key         string   `json:"api_key"`
	RateLimit   int      `json:"rate_limit,omitempty"` // requests per minute per client, 0 = unlimited
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// Addr is the listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ProviderType is the kind of the named provider.
func (c *Config) ProviderType(name string) string {
	if p, ok := c.Providers[name]; ok && p.Type != "" {
		return p.Type
	}
	return name
}

// Load reads configuration from a JSON (comments and trailing commas
// allowed) or YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes a document into a Config. Durations may be written as Go
// duration strings ("500ms") or integer nanoseconds.
func parse(data []byte, ext string) (*Config, error) {
	var raw map[string]any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, err
		}
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			floatToDuration,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func floatToDuration(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.Float64 {
		return data, nil
	}
	return time.Duration(data.(float64)), nil
}

func (c *Config) applyDefaults() {
	if c.LogSetDir == "" && c.DataDir != "" {
		c.LogSetDir = filepath.Join(c.DataDir, "log_sets")
	}
	if c.DefaultProvider == "" && len(c.Providers) == 1 {
		for name := range c.Providers {
			c.DefaultProvider = name
		}
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 3000
	}
}

// LoadFromEnv builds a config from environment variables with the
// LOGTRIAGE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:         getenv("LOGTRIAGE_DATA_DIR", "./data"),
		LogSetDir:       os.Getenv("LOGTRIAGE_LOG_SET_DIR"),
		DefaultProvider: os.Getenv("LOGTRIAGE_PROVIDER"),
		Providers:       make(map[string]ProviderConfig),
		Agent: AgentConfig{
			MaxIterations: getenvInt("LOGTRIAGE_MAX_ITERATIONS", 0),
			TokenBudget:   getenvInt("LOGTRIAGE_TOKEN_BUDGET", 0),
		},
		Alerts: AlertConfig{
			Console:         getenv("LOGTRIAGE_ALERT_CONSOLE", "true") == "true",
			SlackWebhookURL: os.Getenv("LOGTRIAGE_SLACK_WEBHOOK_URL"),
			SlackBotToken:   os.Getenv("LOGTRIAGE_SLACK_BOT_TOKEN"),
			SlackChannel:    os.Getenv("LOGTRIAGE_SLACK_CHANNEL"),
		},
		ChatOps: ChatOpsConfig{
			SlackBotToken: os.Getenv("LOGTRIAGE_CHATOPS_BOT_TOKEN"),
			SlackAppToken: os.Getenv("LOGTRIAGE_CHATOPS_APP_TOKEN"),
		},
		API: APIConfig{
			Host:      getenv("LOGTRIAGE_API_HOST", "0.0.0.0"),
			Port:      getenvInt("LOGTRIAGE_API_PORT", 3000),
			Key:       os.Getenv("LOGTRIAGE_API_KEY"),
			RateLimit: getenvInt("LOGTRIAGE_API_RATE_LIMIT", 0),
		},
	}
	if v := os.Getenv("LOGTRIAGE_ITERATION_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: LOGTRIAGE_ITERATION_DELAY: %w", err)
		}
		cfg.Agent.IterationDelay = d
	}
	if v := os.Getenv("LOGTRIAGE_SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: LOGTRIAGE_SESSION_TIMEOUT: %w", err)
		}
		cfg.Sessions.InactivityTimeout = d
	}

	// Every provider with a key in the environment is configured.
	for _, kind := range []string{"gemini", "anthropic", "openai", "perplexity"} {
		prefix := "LOGTRIAGE_" + strings.ToUpper(kind) + "_"
		key := os.Getenv(prefix + "API_KEY")
		if key == "" {
			continue
		}
		cfg.Providers[kind] = ProviderConfig{
			Type:    kind,
			APIKey:  key,
			BaseURL: os.Getenv(prefix + "BASE_URL"),
			Model:   os.Getenv(prefix + "MODEL"),
		}
	}
	if cfg.DefaultProvider == "" {
		for _, kind := range []string{"gemini", "anthropic", "openai", "perplexity"} {
			if _, ok := cfg.Providers[kind]; ok {
				cfg.DefaultProvider = kind
				break
			}
		}
	}
	if p, ok := cfg.Providers[cfg.DefaultProvider]; ok && p.Model == "" {
		p.Model = os.Getenv("LOGTRIAGE_MODEL")
		cfg.Providers[cfg.DefaultProvider] = p
	}

	cfg.applyDefaults()
	return cfg, nil
}

var providerKinds = map[string]bool{
	"gemini": true, "google": true,
	"anthropic": true, "claude": true,
	"openai": true, "perplexity": true,
}

// Validate checks for required fields and collects every problem.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if kind := c.ProviderType(name); !providerKinds[strings.ToLower(kind)] {
			errs = append(errs, fmt.Sprintf("providers.%s.type %q is not supported", name, kind))
		}
		if p.RateLimit < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.rate_limit must not be negative", name))
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("default_provider references unknown provider %q", c.DefaultProvider))
		}
	} else if len(c.Providers) > 1 {
		errs = append(errs, "default_provider is required when several providers are configured")
	}

	if c.Agent.MaxIterations < 0 {
		errs = append(errs, "agent.max_iterations must not be negative")
	}
	if c.Agent.IterationDelay < 0 || c.Agent.BackoffInitial < 0 {
		errs = append(errs, "agent delays must not be negative")
	}

	if c.Sessions.ReapSchedule != "" {
		if _, err := cron.ParseStandard(c.Sessions.ReapSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("sessions.reap_schedule: %v", err))
		}
	}
	if c.Alerts.SlackWebhookURL == "" && c.Alerts.SlackBotToken != "" && c.Alerts.SlackChannel == "" {
		errs = append(errs, "alerts.slack_channel is required with slack_bot_token")
	}
	if c.ChatOps.Enabled() && (c.ChatOps.SlackBotToken == "" || c.ChatOps.SlackAppToken == "") {
		errs = append(errs, "chatops needs both slack_bot_token and slack_app_token")
	}

	for name, ep := range c.Ingest {
		if ep.Secret == "" && ep.BearerToken == "" {
			errs = append(errs, fmt.Sprintf("ingest.%s needs a secret or bearer_token", name))
		}
	}
	for id, spec := range c.Schedules {
		if !logsource.ValidID(id) {
			errs = append(errs, fmt.Sprintf("schedules: invalid log set id %q", id))
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("schedules.%s: %v", id, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
