// Command broadcastfunction serves the dispatch endpoint as a Cloud Function.
// Configuration comes from the environment only, using the same keys as the
// long-running service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice"
	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/api"
	"github.com/tinywideclouds/go-broadcast-service/internal/storage/ledger"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "go-broadcast-function")
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("Function exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sender, err := broadcastservice.NewSender(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create push sender: %w", err)
	}

	var recorder api.SessionRecorder
	if cfg.Redis.Enabled {
		rdb, err := ledger.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rdb.Close()
		recorder = ledger.New(rdb, cfg.Redis.SessionTTL, logger)
	}

	handler, err := newHandler(cfg, sender, recorder, logger)
	if err != nil {
		return err
	}
	funcframework.RegisterHTTPFunction("/", handler.ServeHTTP)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info("Starting function...", "port", port)
	if err := funcframework.Start(port); err != nil {
		return fmt.Errorf("failed to start function: %w", err)
	}
	return nil
}

// newHandler routes POST / to the dispatch handler, behind JWKS auth when an
// identity service is configured.
func newHandler(cfg *config.Config, sender dispatch.Sender, recorder api.SessionRecorder, logger *slog.Logger) (http.Handler, error) {
	dispatchAPI := api.NewDispatchAPI(broadcastservice.NewDispatcher(cfg, sender, logger), recorder, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", dispatchAPI.Dispatch)

	if cfg.IdentityServiceURL == "" {
		logger.Warn("No auth middleware configured; dispatch routes are unauthenticated")
		return mux, nil
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}
	return authMiddleware(mux), nil
}
