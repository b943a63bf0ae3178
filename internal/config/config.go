package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/jobqueue"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/logging"
	"github.com/worldweaver/internal/provider_output/neynar"
)

// EnvPrefix namespaces environment overrides. A double underscore separates
// nesting levels: WORLDWEAVER_NEYNAR__API_KEY sets neynar.api_key.
const EnvPrefix = "WORLDWEAVER_"

// Unprefixed environment names honoured for older .env files.
const (
	legacyNeynarKey = "NEYNAR_API_KEY"
	legacyLLMKey    = "GAIA_API_KEY"
	legacySigner    = "SIGNER_UUID"
)

// Config represents the application configuration
type Config struct {
	Bot    BotConfig            `koanf:"bot"`
	Neynar neynar.Config        `koanf:"neynar"`
	LLM    llm.Config           `koanf:"llm"`
	Server ServerConfig         `koanf:"server"`
	Queue  jobqueue.QueueConfig `koanf:"queue"`
	Log    logging.Config       `koanf:"log"`
	Dedup  DedupConfig          `koanf:"dedup"`
}

// BotConfig identifies the bot account.
type BotConfig struct {
	FID        string `koanf:"fid"`
	Username   string `koanf:"username"`
	SignerUUID string `koanf:"signer_uuid"`
}

// ServerConfig tunes the webhook server.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	ProcessingTimeout time.Duration `koanf:"processing_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	Async             bool          `koanf:"async"`
	CaptureDir        string        `koanf:"capture_dir"` // record deliveries as fixtures when set
}

// DedupConfig bounds the memory of handled events. A zero retention keeps
// every event ID for the life of the process.
type DedupConfig struct {
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"bot.username": "worldweaver",

		"neynar.base_url": neynar.DefaultBaseURL,
		"neynar.timeout":  "30s",

		"llm.provider":            llm.ProviderOpenAI,
		"llm.base_url":            "https://llama8b.gaia.domains/v1",
		"llm.model":               "llama",
		"llm.timeout":             "60s",
		"llm.requests_per_second": 2.0,
		"llm.burst":               2,
		"llm.retry.max_retries":   2,
		"llm.retry.base_delay":    "2s",
		"llm.retry.max_delay":     "20s",
		"llm.retry.multiplier":    2.5,
		"llm.retry.jitter":        true,
		"llm.retry.log_retries":   true,

		"server.port":               8888,
		"server.processing_timeout": "45s",
		"server.shutdown_timeout":   "15s",
		"server.async":              true,

		"queue.max_workers":  4,
		"queue.max_attempts": 10,
		"queue.job_timeout":  "1m",
		"queue.auto_migrate": true,

		"log.level":        "info",
		"log.format":       "console",
		"log.max_size_mb":  50,
		"log.max_backups":  5,
		"log.max_age_days": 14,

		"dedup.retention":      "0s",
		"dedup.prune_interval": "10m",
	}
}

// DefaultPaths are searched when no config path is given.
var DefaultPaths = []string{"./worldweaver.toml", "./data/worldweaver.toml", "$HOME/.worldweaver.toml"}

// LoadConfig loads defaults, then the TOML file, then the environment.
// A .env file in the working directory is read first without overriding
// variables that are already set.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					log.Debug().Str("path", path).Msg("Loaded config file")
					break
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	applyLegacyEnv(&config)
	config.Neynar.SignerUUID = config.Bot.SignerUUID
	config.Neynar.BotFID = config.Bot.FID

	return &config, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func applyLegacyEnv(c *Config) {
	if c.Neynar.APIKey == "" {
		c.Neynar.APIKey = os.Getenv(legacyNeynarKey)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv(legacyLLMKey)
	}
	if c.Bot.SignerUUID == "" {
		c.Bot.SignerUUID = os.Getenv(legacySigner)
	}
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# worldweaver configuration
# Every key can be overridden with WORLDWEAVER_<SECTION>__<KEY>, e.g. WORLDWEAVER_NEYNAR__API_KEY.

[bot]
fid = "913741"
username = "worldweaver"
signer_uuid = "your-neynar-signer-uuid"

[neynar]
api_key = "your-neynar-api-key"
webhook_url = "https://bot.example.com/webhook"
timeout = "30s"

[llm]
provider = "openai"
base_url = "https://llama8b.gaia.domains/v1"
model = "llama"
api_key = "your-gaia-api-key"
requests_per_second = 2.0
burst = 2

[server]
port = 8888
processing_timeout = "45s"
async = true
# Write every delivery to <capture_dir>/<session>/ for use as test fixtures.
capture_dir = ""

[queue]
# Leave empty to register co-author subscriptions inline.
database_url = ""
max_workers = 4
max_attempts = 10

[log]
level = "info"
format = "console"
file = ""

[dedup]
retention = "24h"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	var errs []error

	if config.Bot.FID == "" {
		errs = append(errs, fmt.Errorf("bot.fid is required"))
	} else if _, err := strconv.ParseInt(config.Bot.FID, 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("bot.fid must be numeric, got %q", config.Bot.FID))
	}
	if config.Bot.SignerUUID == "" {
		errs = append(errs, fmt.Errorf("bot.signer_uuid is required (or %s)", legacySigner))
	}
	if config.Neynar.APIKey == "" {
		errs = append(errs, fmt.Errorf("neynar.api_key is required (or %s)", legacyNeynarKey))
	}

	switch strings.ToLower(config.LLM.Provider) {
	case llm.ProviderOpenAI:
		if config.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for the openai provider (or %s)", legacyLLMKey))
		}
	case llm.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unsupported llm.provider %q", config.LLM.Provider))
	}
	if config.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", config.Server.Port))
	}
	if config.Server.ProcessingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.processing_timeout must be positive"))
	}
	if config.Dedup.Retention < 0 {
		errs = append(errs, fmt.Errorf("dedup.retention must not be negative"))
	}

	if err := config.Queue.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
