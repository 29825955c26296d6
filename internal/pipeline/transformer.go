// Package pipeline adapts the dispatcher to a Pub/Sub-fed streaming service
// so outer batches can be queued instead of POSTed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// BroadcastJobTransformer unmarshals a message into a dispatch.BroadcastJob.
// Any failure sets skip so the StreamingService routes the message to the DLQ
// rather than redelivering it.
func BroadcastJobTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.BroadcastJob, bool, error) {
	var job dispatch.BroadcastJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal broadcast job from message %s: %w", msg.ID, err)
	}
	if len(job.Notifications) == 0 {
		return nil, true, fmt.Errorf("broadcast job in message %s: %w", msg.ID, errEmptyJob)
	}
	return &job, false, nil
}

var errEmptyJob = errors.New("no notifications")
