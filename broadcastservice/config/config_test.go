package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/apns"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/web"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:  "base-project",
			ListenAddr: ":8080",
			Provider:   config.ProviderExpo,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("PUSH_PROVIDER", "WEB")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("NUM_PIPELINE_WORKERS", "4")
		t.Setenv("INNER_BATCH_SIZE", "1")
		t.Setenv("DISPATCH_CONCURRENCY", "5")
		t.Setenv("EXPO_ACCESS_TOKEN", "expo-secret")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_SESSION_TTL", "2h")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("BREAKER_ENABLED", "true")
		t.Setenv("BREAKER_MAX_FAILURES", "3")
		t.Setenv("BREAKER_OPEN_TIMEOUT", "45s")
		t.Setenv("CORS_ALLOWED_ORIGINS", " https://admin.example.com, ,https://ops.example.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, config.ProviderWeb, finalCfg.Provider)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.True(t, finalCfg.PipelineEnabled())
		require.NotNil(t, finalCfg.PubsubConsumerConfig)
		assert.Equal(t, 4, finalCfg.NumPipelineWorkers)
		assert.Equal(t, config.DispatchConfig{InnerBatchSize: 1, Concurrency: 5}, finalCfg.Dispatch)
		assert.Equal(t, "expo-secret", finalCfg.Expo.AccessToken)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, 2*time.Hour, finalCfg.Redis.SessionTTL)
		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)
		assert.Equal(t, config.BreakerConfig{Enabled: true, MaxFailures: 3, OpenTimeout: 45 * time.Second}, finalCfg.Breaker)
		assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults filled in", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		require.NoError(t, err)

		assert.Equal(t, config.DefaultListenAddr, finalCfg.ListenAddr)
		assert.Equal(t, config.ProviderExpo, finalCfg.Provider)
		assert.Equal(t, config.DefaultExpoEndpoint, finalCfg.Expo.Endpoint)
		assert.Equal(t, 100, finalCfg.Dispatch.InnerBatchSize)
		assert.Equal(t, config.DefaultConcurrency, finalCfg.Dispatch.Concurrency)
		assert.False(t, finalCfg.PipelineEnabled())
		assert.False(t, finalCfg.Redis.Enabled)
	})

	t.Run("Success - FCM allows larger inner batches", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Provider = config.ProviderFCM
		cfg.Dispatch.InnerBatchSize = 500

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, 500, finalCfg.Dispatch.InnerBatchSize)
	})

	validationCases := []struct {
		name   string
		mutate func(*config.Config)
		env    map[string]string
	}{
		{name: "Unknown provider", mutate: func(c *config.Config) { c.Provider = "pigeon" }},
		{name: "Inner batch above provider limit", mutate: func(c *config.Config) { c.Dispatch.InnerBatchSize = 101 }},
		{name: "Negative inner batch", mutate: func(c *config.Config) { c.Dispatch.InnerBatchSize = -1 }},
		{name: "Negative concurrency", mutate: func(c *config.Config) { c.Dispatch.Concurrency = -3 }},
		{name: "FCM without project", mutate: func(c *config.Config) { c.Provider = config.ProviderFCM; c.ProjectID = "" }},
		{name: "Pipeline without project", mutate: func(c *config.Config) { c.SubscriptionID = "sub"; c.ProjectID = "" }},
		{name: "APNs without credentials", mutate: func(c *config.Config) { c.Provider = config.ProviderAPNS }},
		{name: "Web without VAPID keys", mutate: func(c *config.Config) { c.Provider = config.ProviderWeb; c.Vapid = config.VapidConfig{} }},
		{name: "Redis enabled without address", mutate: func(c *config.Config) { c.Redis.Enabled = true }},
		{name: "Malformed integer env", env: map[string]string{"INNER_BATCH_SIZE": "lots"}},
		{name: "Malformed bool env", env: map[string]string{"BREAKER_ENABLED": "sometimes"}},
		{name: "Malformed duration env", env: map[string]string{"REDIS_SESSION_TTL": "forever"}},
	}
	for _, tc := range validationCases {
		t.Run("Validation Failure - "+tc.name, func(t *testing.T) {
			t.Setenv("PROJECT_ID", "")
			cfg := baseConfig()
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
			assert.Error(t, err)
		})
	}
}

func TestProviderBatchLimitsMatchSenders(t *testing.T) {
	assert.Equal(t, expo.MaxBatchSize, config.ProviderBatchLimits[config.ProviderExpo])
	assert.Equal(t, fcm.MaxBatchSize, config.ProviderBatchLimits[config.ProviderFCM])
	assert.Equal(t, apns.MaxBatchSize, config.ProviderBatchLimits[config.ProviderAPNS])
	assert.Equal(t, web.MaxBatchSize, config.ProviderBatchLimits[config.ProviderWeb])
}
