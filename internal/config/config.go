// Package config loads PINNLO runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Config is the full runtime configuration shared by the PINNLO binaries.
type Config struct {
	Env       string `env:"PINNLO_ENV,default=development"`
	Port      int    `env:"PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
	// StoreBackend is resolved from the other settings when empty.
	StoreBackend    string        `env:"STORE_BACKEND"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`

	Supabase   SupabaseConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	MCP        MCPConfig
	GitHub     GitHubConfig
	HTTP       HTTPConfig
	Automation AutomationConfig
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	AnonKey    string `env:"SUPABASE_ANON_KEY"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string `env:"SUPABASE_JWT_SECRET"`
	Realtime   bool   `env:"SUPABASE_REALTIME,default=false"`
}

type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE,default=false"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
}

type RedisConfig struct {
	URL        string        `env:"REDIS_URL"`
	PreviewTTL time.Duration `env:"PREVIEW_TTL,default=30m"`
}

type AIConfig struct {
	DefaultProvider     string        `env:"AI_DEFAULT_PROVIDER,default=openai"`
	OpenAIKey           string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL,default=https://api.openai.com"`
	OpenAIModel         string        `env:"OPENAI_MODEL,default=gpt-4o-mini"`
	AnthropicKey        string        `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL    string        `env:"ANTHROPIC_BASE_URL,default=https://api.anthropic.com"`
	AnthropicModel      string        `env:"ANTHROPIC_MODEL,default=claude-3-5-sonnet-latest"`
	MaxTokens           int           `env:"AI_MAX_TOKENS,default=4000"`
	Temperature         float64       `env:"AI_TEMPERATURE,default=0.7"`
	RequestTimeout      time.Duration `env:"AI_REQUEST_TIMEOUT,default=120s"`
	PromptTemplatesPath string        `env:"PROMPT_TEMPLATES_PATH"`
}

type MCPConfig struct {
	ServerURL string `env:"MCP_SERVER_URL"`
	Token     string `env:"MCP_SERVER_TOKEN"`
	Port      int    `env:"MCP_PORT,default=8090"`
}

type GitHubConfig struct {
	Token   string `env:"GITHUB_TOKEN"`
	BaseURL string `env:"GITHUB_API_URL,default=https://api.github.com"`
}

type HTTPConfig struct {
	AllowedOrigins    CSV    `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	RateLimitRPS      int    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst    int    `env:"RATE_LIMIT_BURST,default=40"`
	AIRateLimitPerMin int    `env:"AI_RATE_LIMIT_PER_MINUTE,default=10"`
	AuthCookieName    string `env:"AUTH_COOKIE_NAME,default=sb-access-token"`
	TrustForwardedFor bool   `env:"TRUST_FORWARDED_FOR,default=false"`
	AuditLogPath      string `env:"AUDIT_LOG_PATH"`
}

type AutomationConfig struct {
	Enabled          bool          `env:"AUTOMATION_ENABLED,default=true"`
	ConditionTimeout time.Duration `env:"AUTOMATION_CONDITION_TIMEOUT,default=100ms"`
}

// CSV decodes a comma-separated env value.
type CSV []string

// Decode implements envdecode.Decoder.
func (c *CSV) Decode(value string) error {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*c = out
	return nil
}

// LoadDotEnv loads path into the environment without overriding existing
// variables. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load decodes the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend == "" {
		switch {
		case c.Database.URL != "":
			c.StoreBackend = BackendPostgres
		case c.Supabase.URL != "" && c.Supabase.ServiceKey != "":
			c.StoreBackend = BackendSupabase
		default:
			c.StoreBackend = BackendMemory
		}
	}
	return c.Validate()
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.Supabase.Realtime && c.Supabase.URL == "" {
		return errors.New("SUPABASE_REALTIME requires SUPABASE_URL")
	}
	switch c.AI.DefaultProvider {
	case "openai", "anthropic", "mcp":
	default:
		return fmt.Errorf("unknown AI_DEFAULT_PROVIDER %q", c.AI.DefaultProvider)
	}
	return nil
}

// IsProduction reports whether PINNLO_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Addr is the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
