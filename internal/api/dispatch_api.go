package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// SessionHeader links a dispatch call to the broadcast it belongs to.
const SessionHeader = "X-Broadcast-Session"

// maxBodyBytes comfortably fits one outer batch of 500 payloads.
const maxBodyBytes = 8 << 20

// Dispatcher fans one outer batch out to the push provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, payloads []dispatch.Payload, dryRun bool) dispatch.Result
}

// SessionRecorder receives every dispatch result that carries a session id.
type SessionRecorder interface {
	Record(ctx context.Context, sessionID string, result dispatch.Result) error
}

type DispatchAPI struct {
	Dispatcher Dispatcher
	Recorder   SessionRecorder
	Logger     *slog.Logger
}

// NewDispatchAPI builds the handler. recorder may be nil.
func NewDispatchAPI(dispatcher Dispatcher, recorder SessionRecorder, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Logger:     logger.With("component", "DispatchAPI"),
	}
}

type dispatchResponse struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Total   int  `json:"total"`
}

// Dispatch handles POST /api/notifications?dryRun=<bool>.
// The body is a JSON array of payloads. Per-batch provider failures are
// reported in the counts; only an unreadable request fails the call.
func (api *DispatchAPI) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := api.Logger
	if operator, ok := middleware.GetUserHandleFromContext(ctx); ok {
		log = log.With("operator", operator)
	}

	dryRun := false
	if raw := r.URL.Query().Get("dryRun"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			log.Warn("Dispatch: invalid dryRun", "value", raw)
			response.WriteJSONError(w, http.StatusBadRequest, "invalid dryRun value")
			return
		}
		dryRun = parsed
	}

	var payloads []dispatch.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payloads); err != nil {
		log.Error("Dispatch: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "Failed to send notifications")
		return
	}

	result := api.Dispatcher.Dispatch(ctx, payloads, dryRun)

	sessionID := r.Header.Get(SessionHeader)
	if sessionID != "" && api.Recorder != nil {
		// Ledger errors never fail a batch that was already delivered.
		if err := api.Recorder.Record(ctx, sessionID, result); err != nil {
			log.Warn("Dispatch: failed to record session", "session_id", sessionID, "err", err)
		}
	}

	log.Info("Dispatch: batch processed",
		"session_id", sessionID, "dry_run", dryRun,
		"sent", result.Sent, "failed", result.Failed, "total", result.Total)

	response.WriteJSON(w, http.StatusOK, dispatchResponse{
		Success: true,
		Sent:    result.Sent,
		Failed:  result.Failed,
		Total:   result.Total,
	})
}

