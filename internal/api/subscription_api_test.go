package api_test

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ai-cfia/notifications/internal/api"
	"github.com/ai-cfia/notifications/pkg/push"
)

// --- Mocks ---

type MockSubscriptionStore struct {
	mock.Mock
}

func (m *MockSubscriptionStore) Register(ctx context.Context, sub push.Subscription) (push.Subscription, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(push.Subscription), args.Error(1)
}

func (m *MockSubscriptionStore) Unregister(ctx context.Context, endpoint string) error {
	return m.Called(ctx, endpoint).Error(0)
}

func (m *MockSubscriptionStore) ListActive(ctx context.Context) ([]push.Subscription, error) {
	args := m.Called(ctx)
	return args.Get(0).([]push.Subscription), args.Error(1)
}

func (m *MockSubscriptionStore) UpdateOnSuccess(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSubscriptionStore) IncrementFailure(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockSubscriptionStore) Deactivate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// --- Setup ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSubscriptionAPI() (*api.SubscriptionAPI, *MockSubscriptionStore) {
	mockStore := new(MockSubscriptionStore)
	return api.NewSubscriptionAPI(mockStore, "test-vapid-public-key", newTestLogger()), mockStore
}

func validKeys(t *testing.T) push.Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return push.Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

// --- Tests ---

func TestRegister(t *testing.T) {
	keys := validKeys(t)

	t.Run("Success", func(t *testing.T) {
		apiHandler, mockStore := setupSubscriptionAPI()
		payload := api.RegisterRequest{
			Endpoint: "https://push.example.net/send/abc",
			Keys:     keys,
			Metadata: map[string]string{"locale": "fr-CA"},
		}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/api/v1/subscriptions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		stored := push.Subscription{
			ID:       "sub-1",
			Endpoint: payload.Endpoint,
			Keys:     keys,
			Active:   true,
			Metadata: payload.Metadata,
		}
		mockStore.On("Register", mock.Anything, mock.MatchedBy(func(sub push.Subscription) bool {
			return sub.Endpoint == payload.Endpoint && sub.Active
		})).Return(stored, nil)

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var got push.Subscription
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "sub-1", got.ID)
		assert.Equal(t, payload.Endpoint, got.Endpoint)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Keys", func(t *testing.T) {
		apiHandler, mockStore := setupSubscriptionAPI()
		payload := `{"endpoint": "https://push.example.net/send/abc"}`
		req := httptest.NewRequest("POST", "/api/v1/subscriptions", bytes.NewReader([]byte(payload)))
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Undecodable Key Material", func(t *testing.T) {
		apiHandler, _ := setupSubscriptionAPI()
		payload := api.RegisterRequest{
			Endpoint: "https://push.example.net/send/abc",
			Keys:     push.Keys{P256dh: "!!bad!!", Auth: "!!bad!!"},
		}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/api/v1/subscriptions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Invalid JSON", func(t *testing.T) {
		apiHandler, _ := setupSubscriptionAPI()
		req := httptest.NewRequest("POST", "/api/v1/subscriptions", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage Failure", func(t *testing.T) {
		apiHandler, mockStore := setupSubscriptionAPI()
		payload := api.RegisterRequest{
			Endpoint: "https://push.example.net/send/err",
			Keys:     keys,
		}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/api/v1/subscriptions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, mock.Anything).
			Return(push.Subscription{}, assert.AnError)

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestUnregister(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, mockStore := setupSubscriptionAPI()
		body := []byte(`{"endpoint": "https://push.example.net/send/abc"}`)
		req := httptest.NewRequest("POST", "/api/v1/subscriptions/unregister", bytes.NewReader(body))
		w := httptest.NewRecorder()

		mockStore.On("Unregister", mock.Anything, "https://push.example.net/send/abc").Return(nil)

		apiHandler.Unregister(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Endpoint", func(t *testing.T) {
		apiHandler, _ := setupSubscriptionAPI()
		req := httptest.NewRequest("POST", "/api/v1/subscriptions/unregister", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()

		apiHandler.Unregister(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVapidPublicKey(t *testing.T) {
	apiHandler, _ := setupSubscriptionAPI()
	req := httptest.NewRequest("GET", "/api/v1/vapid-public-key", nil)
	w := httptest.NewRecorder()

	apiHandler.VapidPublicKey(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "test-vapid-public-key", got["publicKey"])
}
