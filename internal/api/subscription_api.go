package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/ai-cfia/notifications/pkg/push"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// SubscriptionAPI exposes the browser-facing registration endpoints. The
// frontend calls these from its service worker setup: fetch the VAPID public
// key, subscribe with the push manager, then hand the subscription here.
type SubscriptionAPI struct {
	Store    push.SubscriptionStore
	VapidKey string
	Logger   *slog.Logger
}

func NewSubscriptionAPI(store push.SubscriptionStore, vapidPublicKey string, logger *slog.Logger) *SubscriptionAPI {
	return &SubscriptionAPI{
		Store:    store,
		VapidKey: vapidPublicKey,
		Logger:   logger,
	}
}

type RegisterRequest struct {
	Endpoint string            `json:"endpoint"`
	Keys     push.Keys         `json:"keys"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Register upserts a subscription. Key material is validated at the door so
// the store never holds a record the encryptor would reject.
func (api *SubscriptionAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("Register: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	sub := push.Subscription{
		Endpoint: req.Endpoint,
		Keys:     req.Keys,
		Metadata: req.Metadata,
		Active:   true,
	}
	if err := sub.Validate(); err != nil {
		api.Logger.Warn("Register: validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := api.Store.Register(ctx, sub)
	if err != nil {
		api.Logger.Error("failed to register subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Register: subscription stored", "endpoint", stored.Endpoint)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

type UnregisterRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unregister removes a subscription by endpoint. Unknown endpoints succeed;
// unregistering twice must be safe for the frontend.
func (api *SubscriptionAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("Unregister: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint == "" {
		api.Logger.Warn("Unregister: validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.Unregister(ctx, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister")
		return
	}
	api.Logger.Info("Unregister: subscription removed", "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// VapidPublicKey hands the application server key to the frontend, which
// passes it as applicationServerKey when subscribing.
func (api *SubscriptionAPI) VapidPublicKey(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": api.VapidKey})
}
