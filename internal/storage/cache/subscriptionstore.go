package cache

import (
	"context"
	"time"

	"github.com/ai-cfia/notifications/pkg/push"
)

// activeSetKey holds the cached fan-out list. There is a single broadcast
// audience, so one key covers every dispatch.
const activeSetKey = "notify:subscriptions:active"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedSubscriptionStore is a decorator that adds read-aside caching of the
// active subscription list to any SubscriptionStore. Membership changes
// (register, unregister, deactivate) invalidate the cache; per-delivery
// counter updates do not, because they never change who receives the next
// dispatch and would otherwise evict the list on every failed send.
type CachedSubscriptionStore struct {
	realStore push.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedSubscriptionStore creates the decorator.
func NewCachedSubscriptionStore(realStore push.SubscriptionStore, cache CacheClient, ttl time.Duration) *CachedSubscriptionStore {
	return &CachedSubscriptionStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSubscriptionStore) ListActive(ctx context.Context) ([]push.Subscription, error) {
	var cached []push.Subscription

	// 1. Try Cache
	err := s.cache.Get(ctx, activeSetKey, &cached)
	if err == nil {
		return cached, nil
	}

	// 2. Fallback to the real store
	fresh, err := s.realStore.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache (Fire and Forget)
	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the store.
	_ = s.cache.Set(ctx, activeSetKey, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriptionStore) Register(ctx context.Context, sub push.Subscription) (push.Subscription, error) {
	stored, err := s.realStore.Register(ctx, sub)
	if err != nil {
		return push.Subscription{}, err
	}
	return stored, s.invalidate(ctx)
}

// Unregister clears the cache even though the DB write already succeeded:
// the next dispatch must not reach an endpoint the user just removed.
func (s *CachedSubscriptionStore) Unregister(ctx context.Context, endpoint string) error {
	if err := s.realStore.Unregister(ctx, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Deactivate changes fan-out membership, so the cached list goes too.
func (s *CachedSubscriptionStore) Deactivate(ctx context.Context, id string) error {
	if err := s.realStore.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// --- PASS-THROUGH (Counter Updates) ---

func (s *CachedSubscriptionStore) UpdateOnSuccess(ctx context.Context, id string) error {
	return s.realStore.UpdateOnSuccess(ctx, id)
}

func (s *CachedSubscriptionStore) IncrementFailure(ctx context.Context, id string) (int, error) {
	return s.realStore.IncrementFailure(ctx, id)
}

// --- Helpers ---

func (s *CachedSubscriptionStore) invalidate(ctx context.Context) error {
	// Delete the key. The next ListActive is forced back to the store,
	// which keeps membership changes immediately consistent.
	return s.cache.Del(ctx, activeSetKey)
}
