// Package broadcast runs a broadcast from the operator's side: it turns the
// selected recipients into outer batches, posts them one at a time to the
// dispatch endpoint and reports progress as it goes.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultOuterBatchSize keeps one dispatch request inside the host's
// execution-time ceiling.
const DefaultOuterBatchSize = 500

type Stage int

const (
	StageSending Stage = iota
	StageBatchDone
	StageDone
)

// Progress is one event in a broadcast run. Totals are the running totals
// after the event.
type Progress struct {
	Stage     Stage
	SessionID string
	Batch     int
	Batches   int
	DryRun    bool
	Totals    dispatch.Result
	// Err is set on StageBatchDone when the whole batch was counted failed.
	Err error
}

func (p Progress) String() string {
	prefix := ""
	if p.DryRun {
		prefix = "[TEST] "
	}
	switch p.Stage {
	case StageSending:
		return fmt.Sprintf("%sSending batch %d/%d...", prefix, p.Batch, p.Batches)
	case StageBatchDone:
		if p.Err != nil {
			return fmt.Sprintf("%sBatch %d/%d failed: %v", prefix, p.Batch, p.Batches, p.Err)
		}
		return fmt.Sprintf("%sBatch %d/%d done", prefix, p.Batch, p.Batches)
	default:
		return fmt.Sprintf("%sDone! Sent %d, Failed %d", prefix, p.Totals.Sent, p.Totals.Failed)
	}
}

type Orchestrator struct {
	poster    BatchPoster
	batchSize int
	newID     func() string
	logger    *slog.Logger
}

func NewOrchestrator(poster BatchPoster, batchSize int, logger *slog.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultOuterBatchSize
	}
	return &Orchestrator{
		poster:    poster,
		batchSize: batchSize,
		newID:     uuid.NewString,
		logger:    logger.With("component", "BroadcastOrchestrator"),
	}
}

// Run starts the broadcast in its own goroutine and returns the event stream.
// Outer batches go out strictly one after another. A failed batch is counted
// failed in full and the run moves on. The channel is closed after the
// StageDone event and is buffered for every event, so a slow or absent reader
// never stalls the run.
func (o *Orchestrator) Run(ctx context.Context, recipients []dispatch.Recipient, content Content, dryRun bool) <-chan Progress {
	batches := dispatch.Chunk(BuildPayloads(recipients, content), o.batchSize)
	events := make(chan Progress, 2*len(batches)+1)
	sessionID := o.newID()

	go func() {
		defer close(events)
		log := o.logger.With("session_id", sessionID, "dry_run", dryRun)
		log.Info("Broadcast started", "recipients", len(recipients), "batches", len(batches))

		var totals dispatch.Result
		for i, batch := range batches {
			event := Progress{SessionID: sessionID, Batch: i + 1, Batches: len(batches), DryRun: dryRun}

			event.Stage = StageSending
			event.Totals = totals
			events <- event

			sent, failed, err := o.sendOne(ctx, sessionID, batch, dryRun)
			if err != nil {
				log.Error("Outer batch failed", "batch", i+1, "size", len(batch), "err", err)
			}
			totals.Add(dispatch.Result{Sent: sent, Failed: failed, Total: len(batch)})

			event.Stage = StageBatchDone
			event.Totals = totals
			event.Err = err
			events <- event
		}

		log.Info("Broadcast finished", "sent", totals.Sent, "failed", totals.Failed, "total", totals.Total)
		events <- Progress{Stage: StageDone, SessionID: sessionID, Batches: len(batches), DryRun: dryRun, Totals: totals}
	}()
	return events
}

// sendOne posts a batch and reconciles the endpoint's counts with the batch
// length: a missing sent means the whole batch, a missing failed means the
// rest of it, and sent+failed never exceeds the batch.
func (o *Orchestrator) sendOne(ctx context.Context, sessionID string, batch []dispatch.Payload, dryRun bool) (int, int, error) {
	n := len(batch)
	outcome, err := o.poster.PostBatch(ctx, sessionID, batch, dryRun)
	if err != nil {
		return 0, n, err
	}

	sent := n
	if outcome.Sent != nil {
		sent = max(0, min(*outcome.Sent, n))
	}
	failed := n - sent
	if outcome.Failed != nil {
		failed = max(0, min(*outcome.Failed, n-sent))
	}
	return sent, failed, nil
}

// Wait drains a run and returns its final totals.
func Wait(events <-chan Progress, onEvent func(Progress)) dispatch.Result {
	var last Progress
	for p := range events {
		if onEvent != nil {
			onEvent(p)
		}
		last = p
	}
	return last.Totals
}
