package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/pkg/logger"
)

func newTestSweeper(t *testing.T) (*ExpirationSweeper, *repository.InMemorySubscriptionStore) {
	t.Helper()
	log := logger.New(logger.DEBUG)
	store := repository.NewInMemorySubscriptionStore(log)
	store.SeedPlan(domain.SubscriptionPlan{ID: 1, Name: "Basic", Price: 19.90, Active: true})
	sweeper := NewExpirationSweeper(store, &kafka.NoOpProducer{}, metrics.NoOpMetrics(), log,
		time.Minute, 3*time.Second)
	return sweeper, store
}

func TestSweepOnce_ExpiresStaleOngoing(t *testing.T) {
	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := seedSubscription(t, store, domain.UserSubscription{
		UserID:    1,
		PlanID:    1,
		Status:    domain.SubscriptionStatusOngoing,
		StartDate: now.Add(-domain.BillingPeriod - time.Hour),
		EndDate:   now.Add(-time.Hour),
	})
	fresh := seedSubscription(t, store, domain.UserSubscription{
		UserID:    2,
		PlanID:    1,
		Status:    domain.SubscriptionStatusOngoing,
		StartDate: now,
		EndDate:   now.Add(domain.BillingPeriod),
	})

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)

	got, err = store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusOngoing, got.Status)
}

func TestSweepOnce_Idempotent(t *testing.T) {
	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedSubscription(t, store, domain.UserSubscription{
		UserID:    1,
		PlanID:    1,
		Status:    domain.SubscriptionStatusOngoing,
		StartDate: now.Add(-domain.BillingPeriod),
		EndDate:   now.Add(-time.Minute),
	})

	first, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestSweepOnce_ActivatesDuePending(t *testing.T) {
	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := seedSubscription(t, store, domain.UserSubscription{
		UserID:    5,
		PlanID:    1,
		Status:    domain.SubscriptionStatusOngoing,
		StartDate: now.Add(-domain.BillingPeriod),
		EndDate:   now.Add(-time.Minute),
	})
	// Отложенный даунгрейд, срок которого наступил вместе с концом старой подписки
	deferred := seedSubscription(t, store, domain.UserSubscription{
		UserID:    5,
		PlanID:    1,
		Status:    domain.SubscriptionStatusPending,
		StartDate: old.EndDate,
		EndDate:   old.EndDate.Add(domain.BillingPeriod),
	})

	_, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)

	got, err = store.GetByID(ctx, deferred.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusOngoing, got.Status)

	current, err := store.GetOngoingByUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, deferred.ID, current.ID)
}

// slowSubscriptionStore задерживает каждую операцию хранилища, уважая контекст.
type slowSubscriptionStore struct {
	*repository.InMemorySubscriptionStore
	delay time.Duration
}

func (s *slowSubscriptionStore) sleep(ctx context.Context) error {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *slowSubscriptionStore) ListExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	return s.InMemorySubscriptionStore.ListExpirable(ctx, now)
}

func (s *slowSubscriptionStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error {
	if err := s.sleep(ctx); err != nil {
		return err
	}
	return s.InMemorySubscriptionStore.UpdateStatusIf(ctx, id, from, to, endDate)
}

func TestSweepOnce_TimeoutIsPerOperation(t *testing.T) {
	log := logger.New(logger.DEBUG)
	inner := repository.NewInMemorySubscriptionStore(log)
	inner.SeedPlan(domain.SubscriptionPlan{ID: 1, Name: "Basic", Price: 19.90, Active: true})
	slow := &slowSubscriptionStore{InMemorySubscriptionStore: inner, delay: 150 * time.Millisecond}
	// Каждая операция укладывается в таймаут, но весь проход в один общий
	// дедлайн не уложился бы
	sweeper := NewExpirationSweeper(slow, &kafka.NoOpProducer{}, metrics.NoOpMetrics(), log,
		time.Minute, 200*time.Millisecond)
	ctx := context.Background()

	now := time.Now().UTC()
	for userID := int64(1); userID <= 2; userID++ {
		seedSubscription(t, inner, domain.UserSubscription{
			UserID:    userID,
			PlanID:    1,
			Status:    domain.SubscriptionStatusOngoing,
			StartDate: now.Add(-domain.BillingPeriod),
			EndDate:   now.Add(-time.Minute),
		})
	}

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
}

func TestSweepOnce_KeepsFuturePendingUntouched(t *testing.T) {
	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	future := seedSubscription(t, store, domain.UserSubscription{
		UserID:    6,
		PlanID:    1,
		Status:    domain.SubscriptionStatusPending,
		StartDate: now.Add(time.Hour),
		EndDate:   now.Add(time.Hour + domain.BillingPeriod),
	})

	_, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, got.Status)
}

func TestSweepOnce_NeverTouchesCancelled(t *testing.T) {
	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	cancelled := seedSubscription(t, store, domain.UserSubscription{
		UserID:    3,
		PlanID:    1,
		Status:    domain.SubscriptionStatusCancelled,
		StartDate: now.Add(-domain.BillingPeriod),
		EndDate:   now.Add(-time.Hour),
	})

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	got, err := store.GetByID(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)
}
