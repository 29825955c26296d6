// Package broadcastservice assembles the dispatch endpoint, the optional
// session ledger routes and the optional queued-broadcast pipeline into one
// runnable service.
package broadcastservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/api"
	"github.com/tinywideclouds/go-broadcast-service/internal/dispatcher"
	"github.com/tinywideclouds/go-broadcast-service/internal/pipeline"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// SessionStore is the ledger as seen by the service: written on every
// dispatch and readable by id.
type SessionStore interface {
	api.SessionRecorder
	api.SessionReader
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.BroadcastJob]
	logger          *slog.Logger
}

// NewDispatcher builds the fan-out engine from the dispatch settings.
func NewDispatcher(cfg *config.Config, sender dispatch.Sender, logger *slog.Logger) *dispatcher.Dispatcher {
	return dispatcher.New(sender, dispatcher.Config{
		BatchSize:   cfg.Dispatch.InnerBatchSize,
		Concurrency: cfg.Dispatch.Concurrency,
	}, logger)
}

// New assembles the service.
// consumer, sessions and authMiddleware are optional; a nil consumer disables
// the queued pipeline and nil sessions disables the session routes.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	sender dispatch.Sender,
	sessions SessionStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatcher shared by the HTTP route and the pipeline
	engine := NewDispatcher(cfg, sender, logger)
	logger.Info("Dispatcher configured",
		"provider", cfg.Provider,
		"inner_batch_size", engine.BatchSize(),
		"concurrency", engine.Concurrency(),
	)

	var recorder api.SessionRecorder
	if sessions != nil {
		recorder = sessions
	}

	// 3. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[dispatch.BroadcastJob]
	if consumer != nil {
		var pipelineRecorder pipeline.SessionRecorder
		if sessions != nil {
			pipelineRecorder = sessions
		}
		processor := pipeline.NewProcessor(engine, pipelineRecorder, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.BroadcastJobTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. Routes
	if authMiddleware == nil {
		logger.Warn("No auth middleware configured; dispatch routes are unauthenticated")
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	dispatchAPI := api.NewDispatchAPI(engine, recorder, logger)
	handle("POST /api/notifications", dispatchAPI.Dispatch)

	if sessions != nil {
		sessionAPI := api.NewSessionAPI(sessions, logger)
		handle("GET /api/notifications/sessions/{id}", sessionAPI.GetSession)
	}

	// CORS preflight
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("OPTIONS /api/notifications", preflight)
	mux.Handle("OPTIONS /api/notifications/", preflight)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Broadcast job pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
