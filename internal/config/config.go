// Package config loads the server configuration from PRAXIS_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "PRAXIS_"

type Config struct {
	Addr    string `env:"ADDR" envDefault:":8080"`
	LogMode string `env:"LOG_MODE" envDefault:"production"`

	// DBDriver is "sqlite" or "postgres". With sqlite an empty DBDSN falls
	// back to SQLitePath.
	DBDriver      string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN         string `env:"DB_DSN"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/praxis.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`
	// SeedPath names a YAML document imported when the store has no modules.
	SeedPath string `env:"SEED_PATH"`

	JWTSecret    string   `env:"JWT_SECRET"`
	AllowOrigins []string `env:"ALLOW_ORIGINS" envSeparator:","`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	CacheEntries  int    `env:"CACHE_ENTRIES" envDefault:"256"`

	AssetMaxBytes int64  `env:"ASSET_MAX_BYTES" envDefault:"104857600"`
	AssetBaseURL  string `env:"ASSET_BASE_URL" envDefault:"/media"`
	// MediaDir, when set, is served read-only under /media.
	MediaDir string `env:"MEDIA_DIR"`

	PublishStrict bool `env:"PUBLISH_STRICT" envDefault:"false"`
	KeepPublished int  `env:"KEEP_PUBLISHED" envDefault:"0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Commit    string `env:"COMMIT"`
	BuildTime string `env:"BUILD_TIME"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DSN() == "" {
			return fmt.Errorf("config: %sSQLITE_PATH or %sDB_DSN is required for sqlite", Prefix, Prefix)
		}
	case "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("config: %sDB_DSN is required for postgres", Prefix)
		}
	default:
		return fmt.Errorf("config: unsupported %sDB_DRIVER %q", Prefix, c.DBDriver)
	}
	if c.AssetMaxBytes <= 0 {
		return fmt.Errorf("config: %sASSET_MAX_BYTES must be > 0", Prefix)
	}
	if c.KeepPublished < 0 {
		return fmt.Errorf("config: %sKEEP_PUBLISHED must be >= 0", Prefix)
	}
	return nil
}

// DSN is the connection string handed to the database driver.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DBDSN); dsn != "" {
		return dsn
	}
	if c.DBDriver == "sqlite" {
		return strings.TrimSpace(c.SQLitePath)
	}
	return ""
}

// Origins drops blank entries left by trailing commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range c.AllowOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
