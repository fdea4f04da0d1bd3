package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// InMemorySubscriptionStore реализация хранилища подписок в памяти.
// Используется в тестах и при локальной разработке без PostgreSQL.
type InMemorySubscriptionStore struct {
	subscriptions map[uuid.UUID]domain.UserSubscription
	plans         map[int64]domain.SubscriptionPlan
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionStore создает новое хранилище подписок в памяти
func NewInMemorySubscriptionStore(log *logger.Logger) *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subscriptions: make(map[uuid.UUID]domain.UserSubscription),
		plans:         make(map[int64]domain.SubscriptionPlan),
		log:           log,
	}
}

// SeedPlan добавляет тарифный план в каталог
func (r *InMemorySubscriptionStore) SeedPlan(plan domain.SubscriptionPlan) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.plans[plan.ID] = plan
}

// Insert сохраняет новую запись подписки
func (r *InMemorySubscriptionStore) Insert(ctx context.Context, sub *domain.UserSubscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Проверяем существование плана
	if _, exists := r.plans[sub.PlanID]; !exists {
		return ErrNotFound
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	r.subscriptions[sub.ID] = *sub

	return nil
}

// GetByID возвращает подписку по ID
func (r *InMemorySubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}

	return &sub, nil
}

// GetOngoingByUser возвращает действующую подписку пользователя
func (r *InMemorySubscriptionStore) GetOngoingByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.UserID == userID && sub.Status == domain.SubscriptionStatusOngoing {
			found := sub
			return &found, nil
		}
	}

	return nil, ErrNotFound
}

// GetCurrentByUser возвращает Ongoing либо еще не истекшую Cancelled подписку
func (r *InMemorySubscriptionStore) GetCurrentByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	now := time.Now().UTC()
	for _, sub := range r.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if sub.Status == domain.SubscriptionStatusOngoing ||
			(sub.Status == domain.SubscriptionStatusCancelled && sub.EndDate.After(now)) {
			found := sub
			return &found, nil
		}
	}

	return nil, ErrNotFound
}

// GetByExternalID возвращает подписку по идентификатору во внешнем провайдере
func (r *InMemorySubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if externalID == "" {
		return nil, ErrNotFound
	}

	for _, sub := range r.subscriptions {
		if sub.ExternalSubscriptionID == externalID {
			found := sub
			return &found, nil
		}
	}

	return nil, ErrNotFound
}

// ListByUser возвращает всю историю подписок пользователя (новые в начале)
func (r *InMemorySubscriptionStore) ListByUser(ctx context.Context, userID int64) ([]domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.UserSubscription
	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})

	return subs, nil
}

// UpdateStatusIf переводит подписку из статуса from в to условной записью
func (r *InMemorySubscriptionStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, exists := r.subscriptions[id]
	if !exists || sub.Status != from {
		return ErrStatusConflict
	}

	sub.Status = to
	sub.EndDate = endDate
	sub.UpdatedAt = time.Now().UTC()
	r.subscriptions[id] = sub

	return nil
}

// ExtendPeriodIf продлевает подписку и выставляет Ongoing условной записью
func (r *InMemorySubscriptionStore) ExtendPeriodIf(ctx context.Context, id uuid.UUID, from domain.SubscriptionStatus, endDate time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, exists := r.subscriptions[id]
	if !exists || sub.Status != from {
		return ErrStatusConflict
	}

	sub.Status = domain.SubscriptionStatusOngoing
	sub.EndDate = endDate
	sub.UpdatedAt = time.Now().UTC()
	r.subscriptions[id] = sub

	return nil
}

// ListExpirable возвращает Ongoing-подписки с end_date <= now
func (r *InMemorySubscriptionStore) ListExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.UserSubscription
	for _, sub := range r.subscriptions {
		if sub.Status == domain.SubscriptionStatusOngoing && !sub.EndDate.After(now) {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// ListActivatable возвращает Pending-подписки с start_date <= now
func (r *InMemorySubscriptionStore) ListActivatable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subs []domain.UserSubscription
	for _, sub := range r.subscriptions {
		if sub.Status == domain.SubscriptionStatusPending && !sub.StartDate.After(now) {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// GetPlan возвращает тарифный план по ID
func (r *InMemorySubscriptionStore) GetPlan(ctx context.Context, planID int64) (*domain.SubscriptionPlan, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	plan, exists := r.plans[planID]
	if !exists {
		return nil, ErrNotFound
	}

	return &plan, nil
}

// GetActivePlans возвращает активные тарифные планы в порядке ID
func (r *InMemorySubscriptionStore) GetActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	plans := make([]domain.SubscriptionPlan, 0, len(r.plans))
	for _, plan := range r.plans {
		if plan.Active {
			plans = append(plans, plan)
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].ID < plans[j].ID
	})

	return plans, nil
}
