package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/ai-cfia/notifications/pkg/push"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// WebhookAPI turns inbound events into fan-out dispatches. Malformed
// payloads are rejected here and never reach the engine.
type WebhookAPI struct {
	Engine push.Dispatcher
	Logger *slog.Logger
}

func NewWebhookAPI(engine push.Dispatcher, logger *slog.Logger) *WebhookAPI {
	return &WebhookAPI{
		Engine: engine,
		Logger: logger,
	}
}

// Notify accepts one event, dispatches it to every active subscription and
// answers with the aggregate report. Individual delivery failures never
// surface here; only an unreadable subscription list does.
func (api *WebhookAPI) Notify(w http.ResponseWriter, r *http.Request) {
	var msg push.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		api.Logger.Error("Notify: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := msg.Validate(); err != nil {
		api.Logger.Warn("Notify: validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := api.Engine.Dispatch(r.Context(), &msg)
	if err != nil {
		api.Logger.Error("Notify: dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, "delivery unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
