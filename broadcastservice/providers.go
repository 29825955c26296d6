package broadcastservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/apns"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/breaker"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/web"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// NewSender builds the Sender for the configured provider, wrapped in a
// circuit breaker when one is enabled.
func NewSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Sender, error) {
	var sender dispatch.Sender

	switch cfg.Provider {
	case config.ProviderExpo:
		sender = expo.NewSender(expo.Config{
			Endpoint:    cfg.Expo.Endpoint,
			AccessToken: cfg.Expo.AccessToken,
			Timeout:     30 * time.Second,
		}, logger)

	case config.ProviderFCM:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		sender = fcm.NewSender(fcmMessaging, logger)

	case config.ProviderAPNS:
		apnsSender, err := apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Development:  cfg.APNS.Development,
		}, logger)
		if err != nil {
			return nil, err
		}
		sender = apnsSender

	case config.ProviderWeb:
		sender = web.NewSender(cfg.Vapid, logger)

	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Provider)
	}

	if cfg.Breaker.Enabled {
		logger.Info("Circuit breaker enabled", "provider", cfg.Provider,
			"max_failures", cfg.Breaker.MaxFailures, "open_timeout", cfg.Breaker.OpenTimeout)
		sender = breaker.New(cfg.Provider, sender, breaker.Config{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		}, logger)
	}
	return sender, nil
}
