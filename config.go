package pgmcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/timeout"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Postgres PostgresConfig `koanf:"postgres" validate:"required"`
}

// PostgresConfig holds connection and pool settings. It is read once, when
// the gateway is built; the pool itself is dialed on first use.
type PostgresConfig struct {
	Host           string     `koanf:"host" validate:"required"`
	Port           int        `koanf:"port" validate:"min=1,max=65535"`
	Database       string     `koanf:"database" validate:"required"`
	User           string     `koanf:"user" validate:"required"`
	Password       string     `koanf:"password"`
	Pool           PoolConfig `koanf:"pool"`
	TimeoutSeconds int        `koanf:"timeout" validate:"min=1"` // per-statement command timeout

	// TimeoutRules override TimeoutSeconds for statements matching a pattern.
	// First match wins.
	TimeoutRules []TimeoutRule `koanf:"timeout_rules" validate:"dive"`
}

// TimeoutRule gives statements matching Pattern their own command timeout.
type TimeoutRule struct {
	Pattern string `koanf:"pattern" json:"pattern" validate:"required,regexp"`
	Seconds int    `koanf:"seconds" json:"seconds" validate:"min=1"`
}

// PoolConfig holds connection pool bounds.
type PoolConfig struct {
	Min int `koanf:"min" validate:"min=0"`
	Max int `koanf:"max" validate:"min=1,gtefield=Min"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config `koanf:",squash"`
	MCP    MCPConfig     `koanf:"mcp"`
	Log    LoggingConfig `koanf:"log"`
}

// MCPConfig holds transport settings for CLI mode.
type MCPConfig struct {
	Transport string `koanf:"transport" validate:"oneof=sse http stdio"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"` // empty: text on a terminal, json otherwise
	Output string `koanf:"output"`                                      // stderr, stdout, or file path
}

// Addr returns host:port for the HTTP transports.
func (c MCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-statement command timeout.
func (c PostgresConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c PostgresConfig) timeoutConfig() timeout.Config {
	rules := make([]timeout.Rule, len(c.TimeoutRules))
	for i, r := range c.TimeoutRules {
		rules[i] = timeout.Rule{Pattern: r.Pattern, Timeout: time.Duration(r.Seconds) * time.Second}
	}
	return timeout.Config{DefaultTimeout: c.Timeout(), Rules: rules}
}

func (c PostgresConfig) poolConfig() pool.Config {
	return pool.Config{
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		User:     c.User,
		Password: c.Password,
		MinConns: int32(c.Pool.Min),
		MaxConns: int32(c.Pool.Max),

		DialTimeout: c.Timeout(),
	}
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Config: Config{
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "postgres",
				User:           "postgres",
				Pool:           PoolConfig{Min: 1, Max: 10},
				TimeoutSeconds: 30,
			},
		},
		MCP: MCPConfig{
			Transport: "sse",
			Host:      "0.0.0.0",
			Port:      8001,
		},
	}
}

// envKeys maps each recognized environment variable to its config key.
// Anything else in the environment is ignored.
var envKeys = map[string]string{
	"POSTGRES_HOST":     "postgres.host",
	"POSTGRES_PORT":     "postgres.port",
	"POSTGRES_DATABASE": "postgres.database",
	"POSTGRES_USER":     "postgres.user",
	"POSTGRES_PASSWORD": "postgres.password",
	"POSTGRES_POOL_MIN": "postgres.pool.min",
	"POSTGRES_POOL_MAX": "postgres.pool.max",
	"POSTGRES_TIMEOUT":  "postgres.timeout",
	"MCP_TRANSPORT":     "mcp.transport",
	"MCP_HOST":          "mcp.host",
	"MCP_PORT":          "mcp.port",
	"LOG_LEVEL":         "log.level",
	"LOG_FORMAT":        "log.format",
	"LOG_OUTPUT":        "log.output",

	"POSTGRES_TIMEOUT_RULES": "postgres.timeout_rules",
}

// envValue converts a raw variable into the value koanf stores. The timeout
// rule list is JSON; when it does not parse, the raw text is kept so that
// Unmarshal rejects it.
func envValue(key, value string) any {
	value = strings.TrimSpace(value)
	if key != "postgres.timeout_rules" {
		return value
	}
	if value == "" {
		return []any{}
	}
	var rules []any
	if err := json.Unmarshal([]byte(value), &rules); err != nil {
		return value
	}
	return rules
}

func loadDefaults(k *koanf.Koanf) error {
	d := DefaultConfig()
	defaults := map[string]any{
		"postgres.host":     d.Postgres.Host,
		"postgres.port":     d.Postgres.Port,
		"postgres.database": d.Postgres.Database,
		"postgres.user":     d.Postgres.User,
		"postgres.password": d.Postgres.Password,
		"postgres.pool.min": d.Postgres.Pool.Min,
		"postgres.pool.max": d.Postgres.Pool.Max,
		"postgres.timeout":  d.Postgres.TimeoutSeconds,

		"mcp.transport": d.MCP.Transport,
		"mcp.host":      d.MCP.Host,
		"mcp.port":      d.MCP.Port,

		"log.level":  "",
		"log.format": "",
		"log.output": "",
	}
	return k.Load(confmap.Provider(defaults, "."), nil)
}

// LoadServerConfig reads the configuration from environment variables on
// top of the defaults. environ supplies the variables in os.Environ form;
// nil means os.Environ.
func LoadServerConfig(environ func() []string) (ServerConfig, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeys[key]
			if !ok {
				return "", nil
			}
			return mapped, envValue(mapped, value)
		},
	}), nil); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// regexp: the field compiles as an RE2 pattern.
	if err := v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks c against its field rules and reports every violation.
func (c ServerConfig) Validate() error {
	return validateStruct(c)
}

// Validate checks the library-mode fields.
func (c Config) Validate() error {
	return validateStruct(c)
}

func validateStruct(v any) error {
	err := configValidator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fieldRule(fe), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
