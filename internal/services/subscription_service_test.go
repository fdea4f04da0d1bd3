package services

import (
	"context"
	"errors"
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

// fakeProcessorClient подменяет платежного провайдера в тестах.
type fakeProcessorClient struct {
	checkoutURL string
	cancelErr   error
	cancelled   []string
}

func (f *fakeProcessorClient) CreateCheckoutSession(ctx context.Context, userID int64, plan *domain.SubscriptionPlan) (string, error) {
	return f.checkoutURL, nil
}

func (f *fakeProcessorClient) CancelSubscription(ctx context.Context, externalID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, externalID)
	return nil
}

func newTestSubscriptionService(t *testing.T) (*SubscriptionService, *repository.InMemorySubscriptionStore, *fakeProcessorClient) {
	t.Helper()
	log := logger.New(logger.DEBUG)
	store := repository.NewInMemorySubscriptionStore(log)
	store.SeedPlan(domain.SubscriptionPlan{ID: 1, Name: "Basic", Price: 19.90, Active: true})
	store.SeedPlan(domain.SubscriptionPlan{ID: 2, Name: "Standard", Price: 29.90, Active: true})
	store.SeedPlan(domain.SubscriptionPlan{ID: 3, Name: "Premium", Price: 39.90, Active: true})

	proc := &fakeProcessorClient{checkoutURL: "https://checkout.example/session"}
	svc := NewSubscriptionService(store, proc, &kafka.NoOpProducer{}, metrics.NoOpMetrics(), log)
	return svc, store, proc
}

func checkoutEvent(userID, planID int64, externalID string) domain.ProcessorEvent {
	return domain.ProcessorEvent{
		Kind:                   domain.EventCheckoutCompleted,
		EventID:                uuid.NewString(),
		UserID:                 userID,
		PlanID:                 planID,
		ExternalSubscriptionID: externalID,
	}
}

func seedSubscription(t *testing.T, store *repository.InMemorySubscriptionStore, sub domain.UserSubscription) domain.UserSubscription {
	t.Helper()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	require.NoError(t, store.Insert(context.Background(), &sub))
	return sub
}

func TestHandleProcessorEvent_NewSubscription(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	err := svc.HandleProcessorEvent(ctx, checkoutEvent(42, 2, "sub_abc"))
	require.NoError(t, err)

	sub, err := store.GetOngoingByUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sub.PlanID)
	assert.Equal(t, "sub_abc", sub.ExternalSubscriptionID)
	assert.WithinDuration(t, time.Now().UTC().Add(domain.BillingPeriod), sub.EndDate, time.Minute)
}

func TestHandleProcessorEvent_DuplicateCheckoutIsIdempotent(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()
	event := checkoutEvent(42, 2, "sub_dup")

	require.NoError(t, svc.HandleProcessorEvent(ctx, event))
	require.NoError(t, svc.HandleProcessorEvent(ctx, event))

	subs, err := store.ListByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestHandleProcessorEvent_UpgradeReplacesCurrent(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(7, 1, "sub_old")))
	old, err := store.GetOngoingByUser(ctx, 7)
	require.NoError(t, err)

	// Более дорогой план вступает в силу сразу
	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(7, 3, "sub_new")))

	current, err := store.GetOngoingByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current.PlanID)
	assert.NotEqual(t, old.ID, current.ID)

	replaced, err := store.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, replaced.Status)
	assert.WithinDuration(t, time.Now().UTC(), replaced.EndDate, time.Minute)
}

func TestHandleProcessorEvent_DowngradeSchedulesPending(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(7, 3, "sub_premium")))
	current, err := store.GetOngoingByUser(ctx, 7)
	require.NoError(t, err)

	// Более дешевый план откладывается до конца оплаченного периода
	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(7, 1, "sub_basic")))

	stillCurrent, err := store.GetOngoingByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, current.ID, stillCurrent.ID)

	pending, err := store.GetByExternalID(ctx, "sub_basic")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, pending.Status)
	assert.Equal(t, current.EndDate, pending.StartDate)
	assert.Equal(t, current.EndDate.Add(domain.BillingPeriod), pending.EndDate)
}

func TestHandleProcessorEvent_RenewalExtendsOngoing(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(9, 2, "sub_renew")))
	before, err := store.GetByExternalID(ctx, "sub_renew")
	require.NoError(t, err)

	err = svc.HandleProcessorEvent(ctx, domain.ProcessorEvent{
		Kind:                   domain.EventRecurringPaymentSucceeded,
		EventID:                uuid.NewString(),
		ExternalSubscriptionID: "sub_renew",
	})
	require.NoError(t, err)

	after, err := store.GetByExternalID(ctx, "sub_renew")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusOngoing, after.Status)
	assert.Equal(t, before.EndDate.Add(domain.BillingPeriod), after.EndDate)
}

func TestHandleProcessorEvent_RenewalWithinGraceReactivates(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	endDate := time.Now().UTC().Add(-23 * time.Hour)
	seedSubscription(t, store, domain.UserSubscription{
		UserID:                 11,
		PlanID:                 2,
		ExternalSubscriptionID: "sub_grace",
		Status:                 domain.SubscriptionStatusExpired,
		StartDate:              endDate.Add(-domain.BillingPeriod),
		EndDate:                endDate,
	})

	err := svc.HandleProcessorEvent(ctx, domain.ProcessorEvent{
		Kind:                   domain.EventRecurringPaymentSucceeded,
		EventID:                uuid.NewString(),
		ExternalSubscriptionID: "sub_grace",
	})
	require.NoError(t, err)

	sub, err := store.GetByExternalID(ctx, "sub_grace")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusOngoing, sub.Status)
	// Новый период отсчитывается от старого конца, без потери оплаченных дней
	assert.Equal(t, endDate.Add(domain.BillingPeriod), sub.EndDate)
}

func TestHandleProcessorEvent_RenewalOutsideGraceIgnored(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	endDate := time.Now().UTC().Add(-25 * time.Hour)
	seedSubscription(t, store, domain.UserSubscription{
		UserID:                 12,
		PlanID:                 2,
		ExternalSubscriptionID: "sub_late",
		Status:                 domain.SubscriptionStatusExpired,
		StartDate:              endDate.Add(-domain.BillingPeriod),
		EndDate:                endDate,
	})

	err := svc.HandleProcessorEvent(ctx, domain.ProcessorEvent{
		Kind:                   domain.EventRecurringPaymentSucceeded,
		EventID:                uuid.NewString(),
		ExternalSubscriptionID: "sub_late",
	})
	require.NoError(t, err)

	sub, err := store.GetByExternalID(ctx, "sub_late")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, endDate, sub.EndDate)
}

func TestHandleProcessorEvent_UnrecognizedAcked(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t)

	err := svc.HandleProcessorEvent(context.Background(), domain.ProcessorEvent{
		Kind:    domain.EventUnrecognized,
		EventID: uuid.NewString(),
	})
	assert.NoError(t, err)
}

func TestHandleProcessorEvent_UnknownPlanAcked(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	// План 99 не существует, ретрай доставки ничего не изменит:
	// событие подтверждается, состояние не трогается
	err := svc.HandleProcessorEvent(ctx, checkoutEvent(42, 99, "sub_ghost_plan"))
	require.NoError(t, err)

	_, err = store.GetByExternalID(ctx, "sub_ghost_plan")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	subs, err := store.ListByUser(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHandleProcessorEvent_RenewalForUnknownSubscriptionAcked(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t)

	err := svc.HandleProcessorEvent(context.Background(), domain.ProcessorEvent{
		Kind:                   domain.EventRecurringPaymentSucceeded,
		EventID:                uuid.NewString(),
		ExternalSubscriptionID: "sub_does_not_exist",
	})
	assert.NoError(t, err)
}

func TestHandleProcessorEvent_CheckoutWithoutMetadataAcked(t *testing.T) {
	svc, store, _ := newTestSubscriptionService(t)
	ctx := context.Background()

	err := svc.HandleProcessorEvent(ctx, domain.ProcessorEvent{
		Kind:    domain.EventCheckoutCompleted,
		EventID: uuid.NewString(),
	})
	require.NoError(t, err)

	subs, err := store.ListByUser(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestCancelSubscription(t *testing.T) {
	svc, store, proc := newTestSubscriptionService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(21, 2, "sub_cancel")))

	require.NoError(t, svc.CancelSubscription(ctx, 21))
	assert.Equal(t, []string{"sub_cancel"}, proc.cancelled)

	sub, err := store.GetByExternalID(ctx, "sub_cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
	// Отмененная подписка продолжает действовать до конца оплаченного периода
	current, err := store.GetCurrentByUser(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, current.ID)
}

func TestCancelSubscription_NoOngoing(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t)

	err := svc.CancelSubscription(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotOngoing)
}

func TestCancelSubscription_NoExternalID(t *testing.T) {
	svc, store, proc := newTestSubscriptionService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedSubscription(t, store, domain.UserSubscription{
		UserID:    22,
		PlanID:    2,
		Status:    domain.SubscriptionStatusOngoing,
		StartDate: now,
		EndDate:   now.Add(domain.BillingPeriod),
	})

	err := svc.CancelSubscription(ctx, 22)
	assert.ErrorIs(t, err, domain.ErrNoExternalSubscription)
	assert.Empty(t, proc.cancelled)
}

func TestCancelSubscription_ProcessorFailureLeavesStateUntouched(t *testing.T) {
	svc, store, proc := newTestSubscriptionService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleProcessorEvent(ctx, checkoutEvent(23, 2, "sub_fail")))
	proc.cancelErr = errors.New("stripe is down")

	err := svc.CancelSubscription(ctx, 23)
	require.Error(t, err)

	sub, err := store.GetByExternalID(ctx, "sub_fail")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusOngoing, sub.Status)
}

func TestCreateCheckoutSession(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t)

	url, err := svc.CreateCheckoutSession(context.Background(), 31, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/session", url)
}

func TestCreateCheckoutSession_UnknownPlan(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t)

	_, err := svc.CreateCheckoutSession(context.Background(), 31, 99)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}
