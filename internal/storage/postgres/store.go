// Package postgres persists push subscriptions in PostgreSQL. Counter
// updates run as single statements so concurrent deliveries to different
// subscriptions never interleave partial state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ai-cfia/notifications/pkg/push"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Register inserts a subscription, or refreshes the existing row when the
// endpoint is already known. Re-registration reactivates the subscription
// and clears its failure history: the browser has handed out fresh keys, so
// past delivery trouble no longer describes this endpoint.
func (s *Store) Register(ctx context.Context, sub push.Subscription) (push.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, endpoint, p256dh, auth, active, failure_count, metadata)
		VALUES ($1, $2, $3, $4, TRUE, 0, $5)
		ON CONFLICT (endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh,
		    auth = EXCLUDED.auth,
		    metadata = EXCLUDED.metadata,
		    active = TRUE,
		    failure_count = 0
		RETURNING id, endpoint, p256dh, auth, active, failure_count, last_success, metadata, created_at
	`, sub.ID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.Metadata)
	stored, err := scanSubscription(row)
	if err != nil {
		return push.Subscription{}, fmt.Errorf("register subscription: %w", err)
	}
	return stored, nil
}

// Unregister removes the subscription for an endpoint. Removing an unknown
// endpoint is not an error.
func (s *Store) Unregister(ctx context.Context, endpoint string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE endpoint = $1
	`, endpoint)
	return err
}

func (s *Store) ListActive(ctx context.Context) ([]push.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, endpoint, p256dh, auth, active, failure_count, last_success, metadata, created_at
		FROM subscriptions
		WHERE active
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []push.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) UpdateOnSuccess(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET failure_count = 0, last_success = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

func (s *Store) IncrementFailure(ctx context.Context, id string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET failure_count = failure_count + 1
		WHERE id = $1
		RETURNING failure_count
	`, id)
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("subscription %s not found", id)
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET active = FALSE
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

func scanSubscription(row pgx.Row) (push.Subscription, error) {
	var sub push.Subscription
	var lastSuccess *time.Time
	err := row.Scan(
		&sub.ID,
		&sub.Endpoint,
		&sub.Keys.P256dh,
		&sub.Keys.Auth,
		&sub.Active,
		&sub.FailureCount,
		&lastSuccess,
		&sub.Metadata,
		&sub.CreatedAt,
	)
	if err != nil {
		return push.Subscription{}, err
	}
	if lastSuccess != nil {
		sub.LastSuccess = *lastSuccess
	}
	return sub, nil
}
