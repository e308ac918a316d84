// Package config содержит логику чтения конфигурации реферального сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmeshcher/referral-system/internal/referralcode"
)

// ErrInvalidConfig возвращается, если параметры не проходят проверку.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	defaultRunAddress = "localhost:8080"
	defaultReward     = 2
)

// Config содержит параметры конфигурации реферального сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"168h"`

	ReferralReward   int64 `env:"REFERRAL_REWARD"`
	CodeLength       int   `env:"REFERRAL_CODE_LENGTH" envDefault:"8"`
	CodePrefixLength int   `env:"REFERRAL_CODE_PREFIX_LENGTH" envDefault:"4"`
	CodeMaxAttempts  int   `env:"REFERRAL_CODE_MAX_ATTEMPTS" envDefault:"10"`

	RedisAddress  string        `env:"REDIS_ADDRESS"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"30s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envReward := cfg.ReferralReward
	_, rewardFromEnv := os.LookupEnv("REFERRAL_REWARD")

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for signing auth tokens")
	flag.Int64Var(&cfg.ReferralReward, "reward", defaultReward, "credits granted to each party of a referral")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if rewardFromEnv {
		cfg.ReferralReward = envReward
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет значения параметров.
func (c *Config) Validate() error {
	if c.CodeLength < referralcode.MinLength || c.CodeLength > referralcode.MaxLength {
		return fmt.Errorf("%w: referral code length %d is outside [%d, %d]",
			referralcode.ErrInvalidConfig, c.CodeLength, referralcode.MinLength, referralcode.MaxLength)
	}
	if c.CodePrefixLength < 0 {
		return fmt.Errorf("%w: negative referral code prefix length", referralcode.ErrInvalidConfig)
	}
	if c.CodeMaxAttempts < 1 || c.CodeMaxAttempts > referralcode.MaxAttempts {
		return fmt.Errorf("%w: referral code max attempts must be in [1, %d]",
			referralcode.ErrInvalidConfig, referralcode.MaxAttempts)
	}
	if c.ReferralReward < 0 {
		return fmt.Errorf("%w: negative referral reward %d", ErrInvalidConfig, c.ReferralReward)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token ttl must be positive", ErrInvalidConfig)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}
