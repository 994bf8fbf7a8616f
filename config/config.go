package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root application configuration, read from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            int           `env:"PORT"             env-default:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  env-default:"15s"`
}

type DatabaseConfig struct {
	URL           string        `env:"DATABASE_URL"       env-required:"true"`
	RunMigrations bool          `env:"RUN_MIGRATIONS"     env-default:"false"`
	ConnRetries   int           `env:"DB_CONNECT_RETRIES" env-default:"5"`
	RetryInterval time.Duration `env:"DB_RETRY_INTERVAL"  env-default:"2s"`
	MaxOpenConns  int           `env:"DB_MAX_OPEN_CONNS"  env-default:"25"`
}

// AuthConfig describes how bearer tokens issued by the identity service are verified.
type AuthConfig struct {
	Secret    string `env:"SECRET_KEY" env-required:"true"`
	Algorithm string `env:"ALGORITHM"  env-default:"HS256"`
}

type CORSConfig struct {
	FrontendURL string `env:"FRONTEND_URL"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

var supportedAlgorithms = []string{"HS256", "HS384", "HS512"}

var defaultOrigins = []string{
	"http://localhost:4200",
	"https://localhost:4200",
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that cleanenv cannot express with tags.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("SECRET_KEY must not be blank"))
	}

	c.Auth.Algorithm = strings.ToUpper(strings.TrimSpace(c.Auth.Algorithm))
	supported := false
	for _, alg := range supportedAlgorithms {
		if c.Auth.Algorithm == alg {
			supported = true
			break
		}
	}
	if !supported {
		errs = append(errs, fmt.Errorf("ALGORITHM %q not supported (want one of %s)",
			c.Auth.Algorithm, strings.Join(supportedAlgorithms, ", ")))
	}

	if c.Database.ConnRetries < 1 {
		c.Database.ConnRetries = 1
	}

	return errors.Join(errs...)
}

// AllowedOrigins returns the origins permitted for cross-origin requests.
func (c CORSConfig) AllowedOrigins() []string {
	origins := append([]string(nil), defaultOrigins...)
	if u := strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/"); u != "" {
		origins = append(origins, u)
	}
	return origins
}
