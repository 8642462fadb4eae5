// Package config loads the service configuration from YAML, a .env file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level, defaulting to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Store        StoreConfig        `yaml:"store"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Correction   CorrectionConfig   `yaml:"correction"`
	Parser       ParserConfig       `yaml:"parser"`
	Batches      BatchesConfig      `yaml:"batches"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	Bulk         BulkConfig         `yaml:"bulk"`
}

type ServerConfig struct {
	HTTPAddr string   `yaml:"http_addr"`
	GRPCAddr string   `yaml:"grpc_addr"`
	LogLevel LogLevel `yaml:"log_level"`
}

type DatabaseConfig struct {
	// Driver is mysql, sqlite or memory.
	Driver string `yaml:"driver"`
	// DSN for mysql gets clientFoundRows=true added at open time.
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty Addr keeps dialog state and locks in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type StoreConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type ConfirmationConfig struct {
	Required  bool          `yaml:"required"`
	Threshold float64       `yaml:"threshold"`
	TTL       time.Duration `yaml:"ttl"`
}

type CorrectionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type ParserConfig struct {
	// DefaultAction applies to clauses with no action keyword: sold or reject.
	DefaultAction   string `yaml:"default_action"`
	CatalogPath     string `yaml:"catalog_path"`
	DefaultLanguage string `yaml:"default_language"`
}

type BatchesConfig struct {
	// SaleAttribution is fifo, ask or none.
	SaleAttribution string        `yaml:"sale_attribution"`
	SelfHealSettle  time.Duration `yaml:"self_heal_settle"`
	PromptExpiry    bool          `yaml:"prompt_expiry"`
	Timezone        string        `yaml:"timezone"`
}

type CleanupConfig struct {
	// Provider is empty (disabled) or openai.
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxInput int           `yaml:"max_input"`
}

type BulkConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8080", GRPCAddr: ":50051", LogLevel: LogInfo},
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/stockledger?clientFoundRows=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis:        RedisConfig{PoolSize: 100},
		Store:        StoreConfig{MaxAttempts: 3, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second},
		Confirmation: ConfirmationConfig{Required: true, Threshold: 0.8, TTL: 5 * time.Minute},
		Correction:   CorrectionConfig{TTL: 10 * time.Minute},
		Parser:       ParserConfig{DefaultAction: "sold", DefaultLanguage: "en"},
		Batches: BatchesConfig{
			SaleAttribution: "fifo",
			SelfHealSettle:  200 * time.Millisecond,
			Timezone:        "Asia/Kolkata",
		},
		Cleanup: CleanupConfig{Model: "gpt-4o-mini", Timeout: 3 * time.Second, MaxInput: 500},
		Bulk:    BulkConfig{Concurrency: 8},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty) and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
// Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func applyEnv(cfg *Config) {
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Server.HTTPAddr = getEnv("HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = getEnv("GRPC_ADDR", cfg.Server.GRPCAddr)
	cfg.Server.LogLevel = LogLevel(getEnv("LOG_LEVEL", string(cfg.Server.LogLevel)))
	cfg.Cleanup.APIKey = getEnv("OPENAI_API_KEY", cfg.Cleanup.APIKey)
}

// Validate returns a joined error listing every invalid value.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	switch cfg.Database.Driver {
	case "mysql", "sqlite":
		if cfg.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is invalid; valid values: mysql, sqlite, memory", cfg.Database.Driver))
	}

	if cfg.Store.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("store.max_attempts must be at least 1, got %d", cfg.Store.MaxAttempts))
	}
	if cfg.Confirmation.Threshold < 0 || cfg.Confirmation.Threshold > 1 {
		errs = append(errs, fmt.Errorf("confirmation.threshold %v must be within [0, 1]", cfg.Confirmation.Threshold))
	}
	if cfg.Confirmation.TTL <= 0 {
		errs = append(errs, errors.New("confirmation.ttl must be positive"))
	}
	if cfg.Correction.TTL <= 0 {
		errs = append(errs, errors.New("correction.ttl must be positive"))
	}

	switch cfg.Parser.DefaultAction {
	case "sold", "reject":
	default:
		errs = append(errs, fmt.Errorf("parser.default_action %q is invalid; valid values: sold, reject", cfg.Parser.DefaultAction))
	}

	switch cfg.Batches.SaleAttribution {
	case "fifo", "ask", "none":
	default:
		errs = append(errs, fmt.Errorf("batches.sale_attribution %q is invalid; valid values: fifo, ask, none", cfg.Batches.SaleAttribution))
	}
	if _, err := time.LoadLocation(cfg.Batches.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("batches.timezone %q: %w", cfg.Batches.Timezone, err))
	}
	if cfg.Batches.SelfHealSettle < 0 {
		errs = append(errs, errors.New("batches.self_heal_settle must not be negative"))
	}

	switch strings.ToLower(cfg.Cleanup.Provider) {
	case "":
	case "openai":
		if cfg.Cleanup.APIKey == "" {
			errs = append(errs, errors.New("cleanup.api_key (or OPENAI_API_KEY) is required for provider openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("cleanup.provider %q is invalid; valid values: openai", cfg.Cleanup.Provider))
	}

	if cfg.Bulk.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("bulk.concurrency must be at least 1, got %d", cfg.Bulk.Concurrency))
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, falling back to UTC.
func (c BatchesConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
