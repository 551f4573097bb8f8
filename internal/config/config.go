package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const envPrefix = "CTIRAG"

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// DatabaseURL enables the Postgres run store and the embedding cache.
	// Without it runs are kept in memory.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	OpenAIAPIKey     string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `envconfig:"OPENAI_BASE_URL"`
	EmbedModel       string        `envconfig:"EMBED_MODEL" default:"text-embedding-3-small"`
	EmbedDimensions  int           `envconfig:"EMBED_DIMENSIONS" default:"1536"`
	EmbedMaxRetries  int           `envconfig:"EMBED_MAX_RETRIES" default:"3"`
	EmbedTimeout     time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	EmbedRatePerSec  float64       `envconfig:"EMBED_RATE_PER_SEC" default:"0"`
	EmbedBatchSize   int           `envconfig:"EMBED_BATCH_SIZE" default:"256"`
	EmbedConcurrency int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	ChatModel        string        `envconfig:"CHAT_MODEL" default:"gpt-4o"`

	RAGTopK          int `envconfig:"RAG_TOPK" default:"5"`
	RAGMaxCharacters int `envconfig:"RAG_MAX_CHARACTERS" default:"6000"`

	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"ctirag-bundles"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"bundles/"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	Workers   int `envconfig:"WORKERS" default:"2"`
	QueueSize int `envconfig:"QUEUE_SIZE" default:"64"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad(logger *zap.Logger) *Config {
	cfg, err := Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	return cfg
}

func (c *Config) validate() error {
	if c.RAGTopK <= 0 {
		return fmt.Errorf("%s_RAG_TOPK must be positive, got %d", envPrefix, c.RAGTopK)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%s_WORKERS must be positive, got %d", envPrefix, c.Workers)
	}
	if c.EmbedDimensions <= 0 {
		return fmt.Errorf("%s_EMBED_DIMENSIONS must be positive, got %d", envPrefix, c.EmbedDimensions)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
