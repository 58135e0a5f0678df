// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/game"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type Config struct {
	Port         string
	IsProduction bool
	LogLevel     string
	WordsFile    string

	RoundDuration time.Duration
	ResetDelay    time.Duration
	SetupTimeout  time.Duration
	RevealAnswer  bool
	AvoidRepeat   bool

	EmbeddingProvider   string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingTimeout    time.Duration
	EmbeddingCacheLimit int

	RateLimitRPS   int
	RateLimitBurst int
	RateLimiterTTL time.Duration
	CORSOrigins    []string
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		util.LogWarn("Failed to load .env file: %v", err)
	}
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

func FromEnv() Config {
	return Config{
		Port:         util.GetEnvString("PORT", "8080"),
		IsProduction: os.Getenv("GIN_MODE") == "release" || os.Getenv("ENV") == "production",
		LogLevel:     util.GetEnvString("LOG_LEVEL", "info"),
		WordsFile:    util.GetEnvString("WORDS_FILE", "data/words.json"),

		RoundDuration: util.GetEnvDuration("ROUND_DURATION", constants.DefaultRoundDuration),
		ResetDelay:    util.GetEnvDuration("RESET_DELAY", constants.DefaultResetDelay),
		SetupTimeout:  util.GetEnvDuration("ROUND_SETUP_TIMEOUT", constants.DefaultSetupTimeout),
		RevealAnswer:  util.GetEnvBool("REVEAL_ANSWER", true),
		AvoidRepeat:   util.GetEnvBool("AVOID_REPEAT_WORD", false),

		EmbeddingProvider:   util.GetEnvString("EMBEDDING_PROVIDER", embedding.ProviderLocal),
		EmbeddingBaseURL:    util.GetEnvString("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:      util.GetEnvString("EMBEDDING_MODEL", "intfloat/multilingual-e5-small"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingTimeout:    util.GetEnvDuration("EMBEDDING_TIMEOUT", 10*time.Second),
		EmbeddingCacheLimit: util.GetEnvInt("EMBEDDING_CACHE_MAX_ENTRIES", 0),

		RateLimitRPS:   util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst: util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL: util.GetEnvDuration("RATE_LIMITER_TTL", 1*time.Hour),
		CORSOrigins:    util.GetEnvList("CORS_ORIGINS", []string{"*"}),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.RoundDuration <= 0 {
		errs = append(errs, fmt.Errorf("ROUND_DURATION must be positive, got %v", c.RoundDuration))
	}
	if c.ResetDelay <= 0 {
		errs = append(errs, fmt.Errorf("RESET_DELAY must be positive, got %v", c.ResetDelay))
	}
	if c.EmbeddingCacheLimit < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_CACHE_MAX_ENTRIES must not be negative, got %d", c.EmbeddingCacheLimit))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst))
	}
	if _, err := embedding.NewProvider(c.ProviderConfig()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) ProviderConfig() embedding.ProviderConfig {
	return embedding.ProviderConfig{
		Name:    c.EmbeddingProvider,
		BaseURL: c.EmbeddingBaseURL,
		Model:   c.EmbeddingModel,
		APIKey:  c.EmbeddingAPIKey,
		Timeout: c.EmbeddingTimeout,
	}
}

func (c Config) GameSettings() game.Settings {
	return game.Settings{
		RoundDuration: c.RoundDuration,
		ResetDelay:    c.ResetDelay,
		SetupTimeout:  c.SetupTimeout,
		AvoidRepeat:   c.AvoidRepeat,
	}
}

func (c Config) Environment() string {
	if c.IsProduction {
		return "production"
	}
	return "development"
}
