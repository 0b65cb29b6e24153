package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ai-cfia/notifications/pkg/push"
)

// FirestoreStore implements push.SubscriptionStore using Google Cloud
// Firestore. Documents live in a flat "subscriptions" collection keyed by a
// hash of the endpoint, so the same browser registration always maps to the
// same document.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// subscriptionRecord is the internal DB representation.
type subscriptionRecord struct {
	Endpoint     string            `firestore:"endpoint"`
	P256dh       string            `firestore:"p256dh"`
	Auth         string            `firestore:"auth"`
	Active       bool              `firestore:"active"`
	FailureCount int               `firestore:"failure_count"`
	LastSuccess  time.Time         `firestore:"last_success,omitempty"`
	Metadata     map[string]string `firestore:"metadata,omitempty"`
	CreatedAt    time.Time         `firestore:"created_at"`
	UpdatedAt    time.Time         `firestore:"updated_at"`
}

func (r subscriptionRecord) toSubscription(id string) push.Subscription {
	return push.Subscription{
		ID:           id,
		Endpoint:     r.Endpoint,
		Keys:         push.Keys{P256dh: r.P256dh, Auth: r.Auth},
		Active:       r.Active,
		FailureCount: r.FailureCount,
		LastSuccess:  r.LastSuccess,
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt,
	}
}

// Register stores a subscription, reactivating and resetting the failure
// count when the endpoint is already known. The original creation time
// survives re-registration.
func (s *FirestoreStore) Register(ctx context.Context, sub push.Subscription) (push.Subscription, error) {
	docID := hashEndpoint(sub.Endpoint)
	ref := s.subscriptions().Doc(docID)

	now := time.Now()
	record := subscriptionRecord{
		Endpoint:  sub.Endpoint,
		P256dh:    sub.Keys.P256dh,
		Auth:      sub.Keys.Auth,
		Active:    true,
		Metadata:  sub.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing subscriptionRecord
			if err := doc.DataTo(&existing); err == nil {
				record.CreatedAt = existing.CreatedAt
				record.LastSuccess = existing.LastSuccess
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		return tx.Set(ref, record)
	})
	if err != nil {
		return push.Subscription{}, fmt.Errorf("register subscription: %w", err)
	}
	return record.toSubscription(docID), nil
}

// Unregister deletes the document for an endpoint. Unknown endpoints are
// not an error.
func (s *FirestoreStore) Unregister(ctx context.Context, endpoint string) error {
	_, err := s.subscriptions().Doc(hashEndpoint(endpoint)).Delete(ctx)
	return err
}

// ListActive returns every subscription still eligible for delivery.
// Corrupt documents are skipped rather than failing the whole fan-out.
func (s *FirestoreStore) ListActive(ctx context.Context) ([]push.Subscription, error) {
	iter := s.subscriptions().Where("active", "==", true).Documents(ctx)
	defer iter.Stop()

	var subs []push.Subscription
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record subscriptionRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		subs = append(subs, record.toSubscription(doc.Ref.ID))
	}
	return subs, nil
}

func (s *FirestoreStore) UpdateOnSuccess(ctx context.Context, id string) error {
	_, err := s.subscriptions().Doc(id).Update(ctx, []firestore.Update{
		{Path: "failure_count", Value: 0},
		{Path: "last_success", Value: time.Now()},
		{Path: "updated_at", Value: time.Now()},
	})
	return err
}

// IncrementFailure bumps the failure counter inside a transaction so
// concurrent dispatches never lose an increment, and returns the new count.
func (s *FirestoreStore) IncrementFailure(ctx context.Context, id string) (int, error) {
	ref := s.subscriptions().Doc(id)
	var count int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var record subscriptionRecord
		if err := doc.DataTo(&record); err != nil {
			return err
		}
		count = record.FailureCount + 1
		return tx.Update(ref, []firestore.Update{
			{Path: "failure_count", Value: count},
			{Path: "updated_at", Value: time.Now()},
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *FirestoreStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.subscriptions().Doc(id).Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updated_at", Value: time.Now()},
	})
	return err
}

// --- Helpers ---

func (s *FirestoreStore) subscriptions() *firestore.CollectionRef {
	return s.client.Collection("subscriptions")
}

// hashEndpoint derives the document ID. Endpoints are long opaque URLs;
// hashing keeps IDs uniform and avoids hot-spotting on shared prefixes.
func hashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}
