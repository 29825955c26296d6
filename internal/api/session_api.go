package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-broadcast-service/internal/storage/ledger"
)

// SessionReader looks up the running totals of a broadcast.
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*ledger.Session, error)
}

type SessionAPI struct {
	Sessions SessionReader
	Logger   *slog.Logger
}

func NewSessionAPI(sessions SessionReader, logger *slog.Logger) *SessionAPI {
	return &SessionAPI{
		Sessions: sessions,
		Logger:   logger.With("component", "SessionAPI"),
	}
}

// GetSession handles GET /api/notifications/sessions/{id}.
func (api *SessionAPI) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}

	session, err := api.Sessions.Get(r.Context(), sessionID)
	if errors.Is(err, ledger.ErrSessionNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		api.Logger.Error("GetSession: ledger read failed", "session_id", sessionID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	response.WriteJSON(w, http.StatusOK, session)
}
