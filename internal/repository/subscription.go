package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/streamflix/backend/internal/domain"
)

// SubscriptionStore определяет методы для работы с хранилищем подписок и
// тарифных планов. Каждый вызов транзакционен сам по себе; межвызовных
// транзакций хранилище не дает, поэтому многошаговые переходы пишутся
// условными записями (UpdateStatusIf / ExtendPeriodIf).
type SubscriptionStore interface {
	// Insert сохраняет новую запись подписки.
	Insert(ctx context.Context, sub *domain.UserSubscription) error

	// GetByID возвращает подписку по ее ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSubscription, error)

	// GetOngoingByUser возвращает действующую (Ongoing) подписку пользователя.
	// По инварианту хранилища такая запись не более одной.
	GetOngoingByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error)

	// GetCurrentByUser возвращает текущую подписку пользователя для чтения:
	// Ongoing либо Cancelled, срок которой еще не истек.
	GetCurrentByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error)

	// GetByExternalID возвращает подписку по идентификатору во внешнем
	// платежном провайдере (понадобится для вебхуков).
	GetByExternalID(ctx context.Context, externalID string) (*domain.UserSubscription, error)

	// ListByUser возвращает всю историю подписок пользователя.
	ListByUser(ctx context.Context, userID int64) ([]domain.UserSubscription, error)

	// UpdateStatusIf переводит подписку из статуса from в статус to и
	// выставляет endDate. Если статус записи уже не from, возвращает
	// ErrStatusConflict и ничего не меняет.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error

	// ExtendPeriodIf продлевает подписку: выставляет endDate и принудительно
	// статус Ongoing, но только если текущий статус записи равен from.
	ExtendPeriodIf(ctx context.Context, id uuid.UUID, from domain.SubscriptionStatus, endDate time.Time) error

	// ListExpirable возвращает Ongoing-подписки, у которых end_date <= now.
	ListExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error)

	// ListActivatable возвращает Pending-подписки, у которых start_date <= now
	// (отложенные даунгрейды, чей срок активации наступил).
	ListActivatable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error)

	// GetPlan возвращает тарифный план по ID.
	GetPlan(ctx context.Context, planID int64) (*domain.SubscriptionPlan, error)

	// GetActivePlans возвращает активные тарифные планы в порядке ID.
	GetActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error)
}
