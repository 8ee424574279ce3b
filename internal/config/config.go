// Package config loads service settings from the environment, optionally
// layered over a YAML file named by CONFIG_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultSecret = "change-me"

// minSecretLen is the shortest HS256 secret accepted outside local and dev.
const minSecretLen = 32

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Port       string `yaml:"port" env:"PORT" env-default:"8080"`
	DBAdapter  string `yaml:"db_adapter" env:"DB_ADAPTER" env-default:"postgres"`
	SQLiteFile string `yaml:"sqlite_file" env:"SQLITE_FILE" env-default:"./data/sessionauth.db"`

	PostgresDSN      string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	PostgresHost     string `yaml:"postgres_host" env:"POSTGRES_HOST" env-default:"localhost"`
	PostgresPort     string `yaml:"postgres_port" env:"POSTGRES_PORT" env-default:"5432"`
	PostgresUser     string `yaml:"postgres_user" env:"POSTGRES_USER" env-default:"sessionauth"`
	PostgresPassword string `yaml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `yaml:"postgres_db" env:"POSTGRES_DB" env-default:"sessionauth"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	// MigrateOnStart applies the embedded schema before serving.
	MigrateOnStart bool `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"true"`

	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DB" env-default:"sessionauth"`

	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me"`
	AccessTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"336h"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`

	RevokeSessionsOnPasswordChange bool `yaml:"revoke_on_password_change" env:"REVOKE_ON_PASSWORD_CHANGE" env-default:"true"`

	// InternalKey guards validate-token. Empty leaves it open.
	InternalKey        string        `yaml:"internal_api_key" env:"INTERNAL_API_KEY"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"60"`
	CORSOrigins        []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	TokenPurgeInterval time.Duration `yaml:"token_purge_interval" env:"TOKEN_PURGE_INTERVAL" env-default:"1h"`
}

// New reads the configuration named by CONFIG_PATH, or the environment
// alone when it is unset.
func New() (*Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

func Load(path string) (*Config, error) {
	var c Config
	if err := read(path, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func read(path string, dst any) error {
	if path == "" {
		if err := cleanenv.ReadEnv(dst); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cleanenv.ReadConfig(path, dst); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "mongo":
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("MONGO_URI and MONGO_DB must be set when DB_ADAPTER=mongo")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, mongo, memory)", c.DBAdapter)
	}

	if err := checkSecret(c.Env, c.JWTSecret); err != nil {
		return err
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.TokenPurgeInterval < 0 {
		return errors.New("TOKEN_PURGE_INTERVAL must not be negative")
	}
	return checkPort(c.Port)
}

// BuildPostgresDSN returns POSTGRES_DSN when set, otherwise a keyword/value
// DSN assembled from the individual settings.
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

func isDevEnv(env string) bool {
	switch strings.ToLower(env) {
	case "local", "dev", "development", "test":
		return true
	}
	return false
}

func checkSecret(env, secret string) error {
	if secret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if isDevEnv(env) {
		return nil
	}
	if secret == defaultSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if len(secret) < minSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minSecretLen)
	}
	return nil
}

func checkPort(port string) error {
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid PORT: %s", port)
	}
	return nil
}
