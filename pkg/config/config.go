// Package config loads and validates the appliance's runtime configuration
// from environment variables, with optional on-disk defaults merged in
// before env vars take precedence.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for the supervisor daemon and its
// subsystems. Every field maps directly to an environment variable named in
// the external interface contract; validation rejects out-of-range values at
// process start rather than letting a bad value surface as a mysterious
// runtime failure later.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogJSON   bool   `env:"LOG_JSON" envDefault:"true"`
	DataDir   string `env:"DATA_DIR" envDefault:"/data" validate:"required"`

	SelfHealingInterval     int  `env:"SELF_HEALING_INTERVAL" envDefault:"30" validate:"gte=5,lte=300"`
	SelfHealingEnabled      bool `env:"SELF_HEALING_ENABLED" envDefault:"true"`
	SelfHealingRebootEnabled bool `env:"SELF_HEALING_REBOOT_ENABLED" envDefault:"false"`

	MetricsIntervalLive    int `env:"METRICS_INTERVAL_LIVE" envDefault:"5" validate:"gte=1,lte=60"`
	MetricsIntervalPersist int `env:"METRICS_INTERVAL_PERSIST" envDefault:"30" validate:"gte=5,lte=3600"`

	DiskWarningPercent  float64 `env:"DISK_WARNING_PERCENT" envDefault:"80" validate:"gt=0,lte=100"`
	DiskCleanupPercent  float64 `env:"DISK_CLEANUP_PERCENT" envDefault:"90" validate:"gt=0,lte=100"`
	DiskCriticalPercent float64 `env:"DISK_CRITICAL_PERCENT" envDefault:"95" validate:"gt=0,lte=100"`
	DiskRebootPercent   float64 `env:"DISK_REBOOT_PERCENT" envDefault:"97" validate:"gt=0,lte=100"`

	DocumentIndexerInterval      int `env:"DOCUMENT_INDEXER_INTERVAL" envDefault:"60" validate:"gte=5,lte=3600"`
	DocumentMaxSizeMB            int `env:"DOCUMENT_MAX_SIZE_MB" envDefault:"100" validate:"gt=0"`
	DocumentIndexerParentChunk   int `env:"DOCUMENT_INDEXER_PARENT_CHUNK_SIZE" envDefault:"2000" validate:"gt=0"`
	DocumentIndexerChildChunk    int `env:"DOCUMENT_INDEXER_CHILD_CHUNK_SIZE" envDefault:"400" validate:"gt=0"`
	DocumentIndexerChildOverlap  int `env:"DOCUMENT_INDEXER_CHILD_CHUNK_OVERLAP" envDefault:"50" validate:"gte=0"`

	EmbeddingVectorSize   int    `env:"EMBEDDING_VECTOR_SIZE" envDefault:"1024" validate:"gt=0"`
	QdrantCollectionName  string `env:"QDRANT_COLLECTION_NAME" envDefault:"documents" validate:"required"`
	BM25IndexPath         string `env:"BM25_INDEX_PATH" envDefault:"/data/bm25_index" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL" validate:"required"`
	RedisAddr   string `env:"REDIS_ADDR"`

	ObjectStoreEndpoint string `env:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreBucket   string `env:"OBJECT_STORE_BUCKET"`

	VectorStoreURL  string `env:"VECTOR_STORE_URL" validate:"required"`
	EmbeddingURL    string `env:"EMBEDDING_SERVICE_URL" validate:"required"`
	LLMServiceURL   string `env:"LLM_SERVICE_URL" envDefault:"http://llm-service:11434"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`

	HeartbeatPath string `env:"HEARTBEAT_PATH" envDefault:"/tmp/self_healing_heartbeat.json"`
	HeartbeatPort int    `env:"HEARTBEAT_PORT" envDefault:"9200" validate:"gt=0,lte=65535"`
	MetricsPort   int    `env:"METRICS_PORT" envDefault:"9100" validate:"gt=0,lte=65535"`
	APIPort       int    `env:"API_PORT" envDefault:"9300" validate:"gt=0,lte=65535"`
}

var validate = validator.New()

// Load reads the configuration from environment variables. If path is
// non-empty, the YAML file at that path is parsed first and used to seed
// struct defaults; environment variables always take precedence over it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := loadYAMLDefaults(path, cfg); err != nil {
			return nil, fmt.Errorf("load yaml defaults: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadYAMLDefaults(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
