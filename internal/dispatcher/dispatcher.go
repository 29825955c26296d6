// Package dispatcher fans a list of notifications out to a push provider in
// provider-sized batches with bounded concurrency.
package dispatcher

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultConcurrency is the number of provider calls allowed in flight at once.
const DefaultConcurrency = 20

// Config tunes the fan-out. Zero values fall back to the sender's batch limit
// and DefaultConcurrency.
type Config struct {
	BatchSize   int
	Concurrency int
}

type Dispatcher struct {
	sender      dispatch.Sender
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// New creates a Dispatcher. The batch size is clamped to the sender's MaxBatchSize.
func New(sender dispatch.Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	batchSize := cfg.BatchSize
	if limit := sender.MaxBatchSize(); limit > 0 && (batchSize <= 0 || batchSize > limit) {
		batchSize = limit
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Dispatcher{
		sender:      sender,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.With("component", "Dispatcher"),
	}
}

// BatchSize reports the effective InnerBatch size.
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Concurrency reports the effective in-flight limit.
func (d *Dispatcher) Concurrency() int {
	return d.concurrency
}

// Dispatch sends every payload and returns the aggregate outcome.
// A failing batch never stops its siblings; Sent+Failed always equals len(payloads).
// In dry-run mode the provider is never called and every batch is reported sent.
func (d *Dispatcher) Dispatch(ctx context.Context, payloads []dispatch.Payload, dryRun bool) dispatch.Result {
	result := dispatch.Result{Total: len(payloads)}

	// 1. Partition
	batches := dispatch.Chunk(payloads, d.batchSize)
	if len(batches) == 0 {
		return result
	}

	sender := d.sender
	if dryRun {
		sender = dryRunSender{}
	}

	d.logger.Debug("Dispatching notifications",
		"count", len(payloads),
		"batches", len(batches),
		"concurrency", d.concurrency,
		"dry_run", dryRun,
	)

	// 2. Fan-out. Each goroutine owns exactly one slot of outcomes.
	outcomes := make([]dispatch.Result, len(batches))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = d.sendBatch(ctx, sender, i, batch)
			return nil
		})
	}
	_ = g.Wait()

	// 3. Aggregate
	for _, outcome := range outcomes {
		result.Sent += outcome.Sent
		result.Failed += outcome.Failed
	}

	d.logger.Info("Dispatch complete",
		"sent", result.Sent,
		"failed", result.Failed,
		"total", result.Total,
		"batches", len(batches),
		"dry_run", dryRun,
	)
	return result
}

func (d *Dispatcher) sendBatch(ctx context.Context, sender dispatch.Sender, index int, batch []dispatch.Payload) (outcome dispatch.Result) {
	outcome.Total = len(batch)

	// A panicking sender fails its own batch only.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Batch send panicked", "batch", index, "size", len(batch), "panic", r)
			outcome = dispatch.Result{Failed: len(batch), Total: len(batch)}
		}
	}()

	accepted, err := sender.Send(ctx, batch)
	if err != nil {
		d.logger.Error("Batch failed", "batch", index, "size", len(batch), "err", err)
		outcome.Failed = len(batch)
		return outcome
	}

	accepted = max(0, min(accepted, len(batch)))
	outcome.Sent = accepted
	outcome.Failed = len(batch) - accepted
	if outcome.Failed > 0 {
		d.logger.Warn("Batch partially rejected", "batch", index, "sent", outcome.Sent, "failed", outcome.Failed)
	}
	return outcome
}

// dryRunSender accepts everything without touching the network.
type dryRunSender struct{}

func (dryRunSender) Send(_ context.Context, batch []dispatch.Payload) (int, error) {
	return len(batch), nil
}

func (dryRunSender) MaxBatchSize() int { return 0 }
