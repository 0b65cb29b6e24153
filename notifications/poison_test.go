//go:build integration

package notifications_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/ai-cfia/notifications/notifications"
	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
)

// --- Mocks ---

// countingEngine satisfies push.Dispatcher. A poison pill must die in the
// transformer, so the count staying at zero is the point of the test.
type countingEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEngine) Dispatch(_ context.Context, _ *push.Message) (*push.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return &push.Report{}, nil
}

func (e *countingEngine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubStore satisfies push.SubscriptionStore for the registration API,
// which this scenario never touches.
type stubStore struct{}

func (stubStore) Register(_ context.Context, sub push.Subscription) (push.Subscription, error) {
	return sub, nil
}
func (stubStore) Unregister(context.Context, string) error                { return nil }
func (stubStore) ListActive(context.Context) ([]push.Subscription, error) { return nil, nil }
func (stubStore) UpdateOnSuccess(context.Context, string) error           { return nil }
func (stubStore) IncrementFailure(context.Context, string) (int, error)   { return 0, nil }
func (stubStore) Deactivate(context.Context, string) error                { return nil }

// --- Test ---

func TestService_PoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-dlq"

	// 1. Setup Pub/Sub Emulator
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	// 2. Arrange: Create main topic, DLQ topic, and subscriptions
	runID := uuid.NewString()
	mainTopicID := "push-main-" + runID
	dlqTopicID := "push-dlq-" + runID
	mainSubID := mainTopicID + "-sub"
	dlqSubID := dlqTopicID + "-sub" // To listen for the dead-lettered message

	// Create the DLQ topic and a subscription for it first
	createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqSubID)
	dlqTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID)

	// Create the main topic and subscription WITH the DeadLetterPolicy
	mainTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, mainTopicID)
	_, err = psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: mainTopicName})
	require.NoError(t, err)

	mainSubName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, mainSubID)
	mainSub := &pubsubpb.Subscription{
		Name:  mainSubName,
		Topic: mainTopicName,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopicName,
			MaxDeliveryAttempts: 5, // Use a low number for fast test execution
		},
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1}, // Fast retries
		},
	}
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, mainSub)
	require.NoError(t, err)

	// 3. Arrange: Create service with dependencies
	engine := &countingEngine{}

	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(mainSubID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	cfg := &config.Config{
		ProjectID:          projectID,
		ListenAddr:         ":0",
		SubscriptionID:     mainSubID,
		NumPipelineWorkers: 2,
	}

	// We pass a no-op auth middleware since we aren't testing the API here
	noopAuth := func(h http.Handler) http.Handler { return h }

	service, err := notifications.New(cfg, consumer, engine, stubStore{}, noopAuth, logger)
	require.NoError(t, err)

	// 4. Act: Start the service and publish a poison pill message
	serviceCtx, serviceCancel := context.WithCancel(ctx)
	defer serviceCancel()
	go func() {
		if err := service.Start(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("service.Start() returned an error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = service.Shutdown(context.Background()) })

	// Publish MALFORMED JSON. This triggers a failure in the Transformer.
	poisonPayload := []byte(`{"this is not valid json"`)
	result := psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload})
	_, err = result.Get(ctx)
	require.NoError(t, err)
	t.Log("Published poison pill message.")

	// 5. Assert: Verify the message arrives on the DLQ subscription
	dlqSub := psClient.Subscriber(dlqSubID)
	var wg sync.WaitGroup
	wg.Add(1)
	var receivedMsg *pubsub.Message

	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		err = dlqSub.Receive(cctx, func(ctx context.Context, msg *pubsub.Message) {
			msg.Ack()
			receivedMsg = msg
			cancel() // Stop receiving after one message
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("DLQ Receive returned an unexpected error: %v", err)
		}
	}()

	wg.Wait()
	require.NotNil(t, receivedMsg, "Did not receive message on the DLQ subscription")
	assert.Equal(t, poisonPayload, receivedMsg.Data)

	// 6. Negative Assertion: Verify the engine was never called
	assert.Equal(t, 0, engine.CallCount(), "Engine should not be called for a poison pill message")
}
