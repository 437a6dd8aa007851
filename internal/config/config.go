package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
)

// EnvPrefix prefixes structured environment overrides, e.g.
// LLMTESTER_SERVER__PORT=9090 or LLMTESTER_UPSTREAM__TIMEOUT=30s.
const EnvPrefix = "LLMTESTER_"

// DefaultPath is read when no explicit config path is given.
const DefaultPath = "config.yaml"

// MissingAPIKeyMessage is reported when no upstream credential is configured.
const MissingAPIKeyMessage = "OPENROUTER_API_KEY is not set in environment variables"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Upstream     UpstreamConfig     `koanf:"upstream"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Log          LogConfig          `koanf:"log"`
	// Endpoints replaces the built-in catalog when non-empty.
	Endpoints []domain.Endpoint `koanf:"endpoints"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type UpstreamConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	SiteURL string `koanf:"site_url"` // sent as HTTP-Referer
	Title   string `koanf:"title"`    // sent as X-Title
	// Timeout bounds one upstream call; 0 disables it.
	Timeout time.Duration `koanf:"timeout"`
}

type OrchestratorConfig struct {
	// MaxConcurrency caps in-flight calls during a query-all round; 0 is unlimited.
	MaxConcurrency int `koanf:"max_concurrency"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// bareEnv maps unprefixed variables shared with the web frontend to config keys.
var bareEnv = map[string]string{
	"OPENROUTER_API_KEY":   "upstream.api_key",
	"NEXT_PUBLIC_SITE_URL": "upstream.site_url",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (DefaultPath when empty; a missing file
// is fine), then the bare OPENROUTER_API_KEY/NEXT_PUBLIC_SITE_URL variables,
// then LLMTESTER_ overrides. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return bareEnv[s]
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":             8080,
		"server.shutdown_timeout": "30s",
		"upstream.base_url":       "https://openrouter.ai/api/v1",
		"upstream.site_url":       "http://localhost:3000",
		"upstream.title":          "OpenRouter LLM Tester",
		"upstream.timeout":        "120s",
		"telemetry.service_name":  "polyglot-llm-tester",
		"log.level":               "info",
		"log.format":              "json",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate reports a configuration error for settings that make every query
// fail. It runs once at startup, before any endpoint is queried.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return domain.ErrConfiguration(MissingAPIKeyMessage)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return domain.ErrConfiguration(fmt.Sprintf("invalid server port %d", c.Server.Port))
	}
	if c.Upstream.Timeout < 0 {
		return domain.ErrConfiguration("upstream timeout must not be negative")
	}
	if c.Orchestrator.MaxConcurrency < 0 {
		return domain.ErrConfiguration("orchestrator max_concurrency must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
