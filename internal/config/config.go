package config

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/restrack/restrack/internal/platform/db"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBSchema              string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	WarehouseURL          string        `mapstructure:"WAREHOUSE_URL"`
	WarehouseMaxConns     int           `mapstructure:"WAREHOUSE_MAX_CONNS"`
	WarehouseQueryTimeout time.Duration `mapstructure:"WAREHOUSE_QUERY_TIMEOUT"`
	WarehouseOrdersTable  string        `mapstructure:"WAREHOUSE_ORDERS_TABLE"`
	JWTSecretKey          string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpireMinutes      int           `mapstructure:"JWT_EXPIRE_MINUTES"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	LogFile               string        `mapstructure:"LOG_FILE"`
	LogMaxAgeDays         int           `mapstructure:"LOG_MAX_AGE_DAYS"`
	AllowedEmailDomains   []string      `mapstructure:"ALLOWED_EMAIL_DOMAINS"`
}

// devJWTSecret is only accepted when ENV=development.
const devJWTSecret = "restrack-development-secret-do-not-use"

const minJWTSecretLen = 32

// identifierPattern accepts a table name, optionally schema-qualified.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

func Load() (*Config, error) {
	// Best effort: a missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("WAREHOUSE_MAX_CONNS", 10)
	v.SetDefault("WAREHOUSE_QUERY_TIMEOUT", "10s")
	v.SetDefault("WAREHOUSE_ORDERS_TABLE", "orders")
	v.SetDefault("JWT_EXPIRE_MINUTES", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_AGE_DAYS", 14)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"WAREHOUSE_URL", "WAREHOUSE_MAX_CONNS", "WAREHOUSE_QUERY_TIMEOUT", "WAREHOUSE_ORDERS_TABLE",
		"JWT_SECRET_KEY", "JWT_EXPIRE_MINUTES", "REDIS_URL", "CORS_ORIGINS", "REQUEST_TIMEOUT",
		"LOG_LEVEL", "LOG_FILE", "LOG_MAX_AGE_DAYS", "ALLOWED_EMAIL_DOMAINS",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AllowedEmailDomains = splitList(strings.ToLower(v.GetString("ALLOWED_EMAIL_DOMAINS")))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecretKey == "" {
		log.Println("WARNING: JWT_SECRET_KEY is not set; using the built-in development secret.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		cfg.JWTSecretKey = devJWTSecret
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenTTL returns the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run the API server.
// The warehouse URL is only required by serve; migrate and user commands
// touch the local database alone.
func (c *Config) Validate() error {
	if c.WarehouseURL == "" {
		return fmt.Errorf("WAREHOUSE_URL is required")
	}
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if !c.IsDev() && c.JWTSecretKey == devJWTSecret {
		return fmt.Errorf("JWT_SECRET_KEY must be set explicitly outside development (ENV=%q)", c.Env)
	}
	if !c.IsDev() && len(c.JWTSecretKey) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes, got %d", minJWTSecretLen, len(c.JWTSecretKey))
	}
	if c.JWTExpireMinutes <= 0 {
		return fmt.Errorf("JWT_EXPIRE_MINUTES must be positive, got %d", c.JWTExpireMinutes)
	}
	if !db.ValidSchema(c.DBSchema) {
		return fmt.Errorf("DB_SCHEMA %q is not a valid identifier", c.DBSchema)
	}
	if !identifierPattern.MatchString(c.WarehouseOrdersTable) {
		return fmt.Errorf("WAREHOUSE_ORDERS_TABLE %q is not a valid identifier", c.WarehouseOrdersTable)
	}
	if c.WarehouseQueryTimeout <= 0 {
		return fmt.Errorf("WAREHOUSE_QUERY_TIMEOUT must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
