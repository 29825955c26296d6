package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, payloads []dispatch.Payload, dryRun bool) dispatch.Result
}

type SessionRecorder interface {
	Record(ctx context.Context, sessionID string, result dispatch.Result) error
}

// NewProcessor runs each job through the dispatcher and records the outcome
// against the job's session. recorder may be nil.
//
// The processor never returns an error: provider failures are already
// counted in the Result, and a nack would redeliver the job and send the
// batches that did succeed a second time.
func NewProcessor(
	dispatcher Dispatcher,
	recorder SessionRecorder,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.BroadcastJob] {

	return func(ctx context.Context, original messagepipeline.Message, job *dispatch.BroadcastJob) error {
		procLogger := logger.With(
			"session_id", job.SessionID,
			"pubsub_msg_id", original.ID,
			"dry_run", job.DryRun,
		)

		result := dispatcher.Dispatch(ctx, job.Notifications, job.DryRun)
		procLogger.Info("Broadcast job dispatched", "sent", result.Sent, "failed", result.Failed, "total", result.Total)

		if recorder != nil && job.SessionID != "" {
			if err := recorder.Record(ctx, job.SessionID, result); err != nil {
				procLogger.Warn("Failed to record session", "err", err)
			}
		}
		return nil
	}
}
