package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ai-cfia/notifications/internal/api"
	"github.com/ai-cfia/notifications/pkg/push"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, msg *push.Message) (*push.Report, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Report), args.Error(1)
}

func setupWebhookAPI() (*api.WebhookAPI, *mockDispatcher) {
	dispatcher := new(mockDispatcher)
	return api.NewWebhookAPI(dispatcher, newTestLogger()), dispatcher
}

func TestNotify(t *testing.T) {
	t.Run("Success Returns Report", func(t *testing.T) {
		apiHandler, dispatcher := setupWebhookAPI()
		body := []byte(`{"title": "Inspection due", "body": "Facility 42 is due next week"}`)
		req := httptest.NewRequest("POST", "/api/v1/notify", bytes.NewReader(body))
		w := httptest.NewRecorder()

		report := &push.Report{Succeeded: 2, Retried: 1, Deactivated: 1}
		dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(msg *push.Message) bool {
			return msg.Title == "Inspection due"
		})).Return(report, nil)

		apiHandler.Notify(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got push.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 2, got.Succeeded)
		assert.Equal(t, 1, got.Retried)
		assert.Equal(t, 1, got.Deactivated)
		assert.Equal(t, 0, got.Failed)
		dispatcher.AssertExpectations(t)
	})

	t.Run("Rejects Missing Title", func(t *testing.T) {
		apiHandler, dispatcher := setupWebhookAPI()
		body := []byte(`{"body": "no title here"}`)
		req := httptest.NewRequest("POST", "/api/v1/notify", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.Notify(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Invalid JSON", func(t *testing.T) {
		apiHandler, dispatcher := setupWebhookAPI()
		req := httptest.NewRequest("POST", "/api/v1/notify", bytes.NewReader([]byte("{oops")))
		w := httptest.NewRecorder()

		apiHandler.Notify(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("Dispatch Failure", func(t *testing.T) {
		apiHandler, dispatcher := setupWebhookAPI()
		body := []byte(`{"title": "t", "body": "b"}`)
		req := httptest.NewRequest("POST", "/api/v1/notify", bytes.NewReader(body))
		w := httptest.NewRecorder()

		dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		apiHandler.Notify(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
