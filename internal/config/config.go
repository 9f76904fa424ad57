package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOCHAT"

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	ServerAddr     string        `envconfig:"ADDR" default:"localhost:8000"`
	StoreDriver    string        `envconfig:"STORE" default:"memory"`
	DatabaseDSN    string        `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	MongoURI       string        `envconfig:"MONGO_URI" default:"mongodb://127.0.0.1:27017"`
	MongoDatabase  string        `envconfig:"MONGO_DATABASE" default:"go_relay"`
	SigningSecret  string        `envconfig:"SIGNING_KEY"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	PresenceTTL    time.Duration `envconfig:"PRESENCE_TTL" default:"60s"`
	StoreTimeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	ReactionPolicy string        `envconfig:"REACTION_POLICY" default:"multi"`

	SigningKey []byte `ignored:"true"`
}

// Load reads the configuration from the environment. Values in envFile are
// applied first and never override variables that are already set; a
// missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks the configuration and decodes the signing secret.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo URI cannot be empty")
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("mongo database cannot be empty")
		}
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence ttl must be positive")
	}

	switch c.ReactionPolicy {
	case "multi", "single":
	default:
		return fmt.Errorf("unknown reaction policy %q", c.ReactionPolicy)
	}

	return nil
}
