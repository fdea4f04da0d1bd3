package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// CachedSubscriptionStore реализует SubscriptionStore с кешированием.
// Кешируются только данные для горячих путей чтения: каталог планов и
// текущая подписка пользователя. Все записи идут напрямую в основное
// хранилище, кеш инвалидируется после успешного перехода.
type CachedSubscriptionStore struct {
	store SubscriptionStore
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionStore создает новое хранилище подписок с кешированием
func NewCachedSubscriptionStore(
	store SubscriptionStore,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionStore {
	return &CachedSubscriptionStore{
		store: store,
		cache: cache,
		log:   log,
	}
}

// Insert сохраняет подписку в БД и инвалидирует кеш текущей подписки пользователя
func (r *CachedSubscriptionStore) Insert(ctx context.Context, sub *domain.UserSubscription) error {
	if err := r.store.Insert(ctx, sub); err != nil {
		return err
	}

	if err := r.cache.InvalidateCurrentSubscription(ctx, sub.UserID); err != nil {
		r.log.Warnw("Failed to invalidate current subscription cache after insert", "error", err, "userID", sub.UserID)
		// Продолжаем выполнение, несмотря на ошибку кеширования
	}

	return nil
}

// GetByID получает подписку по ID (без кеша, используется в путях записи)
func (r *CachedSubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSubscription, error) {
	return r.store.GetByID(ctx, id)
}

// GetOngoingByUser читает действующую подписку напрямую из БД.
// Путь реконсилятора: здесь нужен свежий снимок, а не кеш.
func (r *CachedSubscriptionStore) GetOngoingByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	return r.store.GetOngoingByUser(ctx, userID)
}

// GetCurrentByUser возвращает текущую подписку (сначала из кеша, потом из БД)
func (r *CachedSubscriptionStore) GetCurrentByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	cached, err := r.cache.GetCachedCurrentSubscription(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting current subscription from cache", "error", err, "userID", userID)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		return cached, nil
	}

	sub, err := r.store.GetCurrentByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheCurrentSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache current subscription after fetching", "error", err, "userID", userID)
	}

	return sub, nil
}

// GetByExternalID получает подписку по внешнему ID (без кеша, путь вебхуков)
func (r *CachedSubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*domain.UserSubscription, error) {
	return r.store.GetByExternalID(ctx, externalID)
}

// ListByUser возвращает историю подписок пользователя
func (r *CachedSubscriptionStore) ListByUser(ctx context.Context, userID int64) ([]domain.UserSubscription, error) {
	return r.store.ListByUser(ctx, userID)
}

// UpdateStatusIf выполняет условный переход и инвалидирует кеш пользователя
func (r *CachedSubscriptionStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error {
	if err := r.store.UpdateStatusIf(ctx, id, from, to, endDate); err != nil {
		return err
	}

	r.invalidateByID(ctx, id)
	return nil
}

// ExtendPeriodIf выполняет условное продление и инвалидирует кеш пользователя
func (r *CachedSubscriptionStore) ExtendPeriodIf(ctx context.Context, id uuid.UUID, from domain.SubscriptionStatus, endDate time.Time) error {
	if err := r.store.ExtendPeriodIf(ctx, id, from, endDate); err != nil {
		return err
	}

	r.invalidateByID(ctx, id)
	return nil
}

// ListExpirable возвращает подписки к истечению (без кеша, путь фоновой задачи)
func (r *CachedSubscriptionStore) ListExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	return r.store.ListExpirable(ctx, now)
}

// ListActivatable возвращает отложенные подписки к активации (без кеша)
func (r *CachedSubscriptionStore) ListActivatable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	return r.store.ListActivatable(ctx, now)
}

// GetPlan возвращает тарифный план (сначала из кеша, потом из БД)
func (r *CachedSubscriptionStore) GetPlan(ctx context.Context, planID int64) (*domain.SubscriptionPlan, error) {
	cached, err := r.cache.GetCachedPlan(ctx, planID)
	if err != nil {
		r.log.Warnw("Error getting plan from cache", "error", err, "planID", planID)
	}
	if cached != nil {
		return cached, nil
	}

	plan, err := r.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CachePlan(ctx, plan); err != nil {
		r.log.Warnw("Failed to cache plan after fetching", "error", err, "planID", planID)
	}

	return plan, nil
}

// GetActivePlans возвращает активные планы (сначала из кеша, потом из БД)
func (r *CachedSubscriptionStore) GetActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	cached, err := r.cache.GetCachedActivePlans(ctx)
	if err != nil {
		r.log.Warnw("Error getting active plans from cache", "error", err)
	}
	if len(cached) > 0 {
		return cached, nil
	}

	plans, err := r.store.GetActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	if len(plans) > 0 {
		if err := r.cache.CacheActivePlans(ctx, plans); err != nil {
			r.log.Warnw("Failed to cache active plans", "error", err)
		}
	}

	return plans, nil
}

// invalidateByID находит пользователя подписки и сбрасывает его кеш
func (r *CachedSubscriptionStore) invalidateByID(ctx context.Context, id uuid.UUID) {
	sub, err := r.store.GetByID(ctx, id)
	if err != nil {
		r.log.Warnw("Failed to resolve subscription for cache invalidation", "error", err, "subscriptionID", id)
		return
	}
	if err := r.cache.InvalidateCurrentSubscription(ctx, sub.UserID); err != nil {
		r.log.Warnw("Failed to invalidate current subscription cache", "error", err, "userID", sub.UserID)
	}
}
