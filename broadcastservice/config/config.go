package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	ProviderExpo = "expo"
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
	ProviderWeb  = "web"
)

// ProviderBatchLimits is each provider's documented per-call ceiling.
var ProviderBatchLimits = map[string]int{
	ProviderExpo: 100,
	ProviderFCM:  500,
	ProviderAPNS: 100,
	ProviderWeb:  100,
}

const (
	DefaultListenAddr   = ":8080"
	DefaultConcurrency  = 20
	DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"
)

type RedisConfig struct {
	Enabled    bool
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type ExpoConfig struct {
	Endpoint    string
	AccessToken string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Development  bool
}

// DispatchConfig tunes the server-side fan-out. InnerBatchSize 1 sends one
// notification per provider call.
type DispatchConfig struct {
	InnerBatchSize int
	Concurrency    int
}

type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	Provider           string
	IdentityServiceURL string

	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Expo       ExpoConfig
	APNS       APNSConfig
	Dispatch   DispatchConfig
	Breaker    BreakerConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether queued broadcast jobs should be consumed.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	overrideString("PROJECT_ID", &cfg.ProjectID, logger)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString("PUSH_PROVIDER", &cfg.Provider, logger)
	overrideString("IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL, logger)

	// Pub/Sub
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	overrideString("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID, logger)
	overrideString("TOPIC_ID", &cfg.TopicID, logger)
	if err := overrideInt("NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers, logger); err != nil {
		return nil, err
	}

	// Dispatch tuning
	if err := overrideInt("INNER_BATCH_SIZE", &cfg.Dispatch.InnerBatchSize, logger); err != nil {
		return nil, err
	}
	if err := overrideInt("DISPATCH_CONCURRENCY", &cfg.Dispatch.Concurrency, logger); err != nil {
		return nil, err
	}

	// Expo
	overrideString("EXPO_ENDPOINT", &cfg.Expo.Endpoint, logger)
	overrideString("EXPO_ACCESS_TOKEN", &cfg.Expo.AccessToken, logger)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	overrideString("REDIS_PASSWORD", &cfg.Redis.Password, logger)
	if err := overrideInt("REDIS_DB", &cfg.Redis.DB, logger); err != nil {
		return nil, err
	}
	if err := overrideBool("REDIS_ENABLED", &cfg.Redis.Enabled, logger); err != nil {
		return nil, err
	}
	if err := overrideDuration("REDIS_SESSION_TTL", &cfg.Redis.SessionTTL, logger); err != nil {
		return nil, err
	}

	// VAPID Overrides
	overrideString("VAPID_PUBLIC_KEY", &cfg.Vapid.PublicKey, logger)
	overrideString("VAPID_PRIVATE_KEY", &cfg.Vapid.PrivateKey, logger)
	overrideString("VAPID_SUB_EMAIL", &cfg.Vapid.SubscriberEmail, logger)

	// APNs Overrides
	overrideString("APNS_KEY_ID", &cfg.APNS.KeyID, logger)
	overrideString("APNS_TEAM_ID", &cfg.APNS.TeamID, logger)
	overrideString("APNS_BUNDLE_ID", &cfg.APNS.BundleID, logger)
	overrideString("APNS_P8_KEY", &cfg.APNS.P8KeyContent, logger)
	if err := overrideBool("APNS_DEVELOPMENT", &cfg.APNS.Development, logger); err != nil {
		return nil, err
	}

	// Breaker
	if err := overrideBool("BREAKER_ENABLED", &cfg.Breaker.Enabled, logger); err != nil {
		return nil, err
	}
	if err := overrideDuration("BREAKER_OPEN_TIMEOUT", &cfg.Breaker.OpenTimeout, logger); err != nil {
		return nil, err
	}
	if val := os.Getenv("BREAKER_MAX_FAILURES"); val != "" {
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("BREAKER_MAX_FAILURES must be a non-negative integer: %w", err)
		}
		cfg.Breaker.MaxFailures = uint32(n)
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully",
		"provider", cfg.Provider,
		"inner_batch_size", cfg.Dispatch.InnerBatchSize,
		"concurrency", cfg.Dispatch.Concurrency,
		"pipeline", cfg.PipelineEnabled(),
		"redis", cfg.Redis.Enabled,
	)
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderExpo
	}
	cfg.Provider = strings.ToLower(cfg.Provider)

	limit, ok := ProviderBatchLimits[cfg.Provider]
	if !ok {
		return fmt.Errorf("unknown push provider %q (expected expo, fcm, apns or web)", cfg.Provider)
	}
	if cfg.Dispatch.InnerBatchSize == 0 {
		cfg.Dispatch.InnerBatchSize = limit
	}
	if cfg.Dispatch.InnerBatchSize < 1 || cfg.Dispatch.InnerBatchSize > limit {
		return fmt.Errorf("inner_batch_size must be between 1 and %d for %s, got %d", limit, cfg.Provider, cfg.Dispatch.InnerBatchSize)
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = DefaultConcurrency
	}
	if cfg.Dispatch.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", cfg.Dispatch.Concurrency)
	}

	switch cfg.Provider {
	case ProviderExpo:
		if cfg.Expo.Endpoint == "" {
			cfg.Expo.Endpoint = DefaultExpoEndpoint
		}
	case ProviderAPNS:
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8KeyContent == "" {
			return fmt.Errorf("apns provider requires key_id, team_id, bundle_id and p8_key")
		}
	case ProviderWeb:
		if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
			return fmt.Errorf("web provider requires VAPID public and private keys")
		}
	}

	if cfg.ProjectID == "" && (cfg.Provider == ProviderFCM || cfg.PipelineEnabled()) {
		return fmt.Errorf("project_id is required for the fcm provider and the pub/sub pipeline (set via YAML or PROJECT_ID env var)")
	}
	if cfg.PipelineEnabled() {
		if cfg.NumPipelineWorkers <= 0 {
			cfg.NumPipelineWorkers = 1
		}
		if cfg.PubsubConsumerConfig == nil {
			cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis is enabled but no address is configured")
	}
	return nil
}

func overrideString(key string, dst *string, logger *slog.Logger) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func overrideInt(key string, dst *int, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = n
	return nil
}

func overrideBool(key string, dst *bool, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = b
	return nil
}

func overrideDuration(key string, dst *time.Duration, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s must be a duration: %w", key, err)
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
	return nil
}
