package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/pkg/logger"
)

// ExpirationSweeper фоновый процесс, который по таймеру переводит истекшие
// Ongoing-подписки в Expired. Переход пишется условно (только из Ongoing),
// чтобы не конфликтовать с вебхуками, которые могут параллельно продлить
// или отменить ту же подписку.
type ExpirationSweeper struct {
	store        repository.SubscriptionStore
	producer     kafka.Producer
	metrics      metrics.StreamingMetrics
	log          *logger.Logger
	interval     time.Duration
	storeTimeout time.Duration
}

// NewExpirationSweeper конструктор фонового процесса истечения подписок
func NewExpirationSweeper(
	store repository.SubscriptionStore,
	producer kafka.Producer,
	m metrics.StreamingMetrics,
	log *logger.Logger,
	interval time.Duration,
	storeTimeout time.Duration,
) *ExpirationSweeper {
	if producer == nil {
		producer = &kafka.NoOpProducer{}
	}
	return &ExpirationSweeper{
		store:        store,
		producer:     producer,
		metrics:      m,
		log:          log,
		interval:     interval,
		storeTimeout: storeTimeout,
	}
}

// Run крутит цикл проверки до отмены контекста. Ошибка одного прохода
// логируется, процесс продолжает работать.
func (e *ExpirationSweeper) Run(ctx context.Context) {
	e.log.Infow("Expiration sweeper started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Infow("Expiration sweeper stopped")
			return
		case <-ticker.C:
			if _, err := e.SweepOnce(ctx); err != nil {
				e.metrics.IncSweepErrors()
				e.log.Errorw("Expiration sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce выполняет один проход: находит истекшие Ongoing-подписки и
// переводит каждую в Expired. Возвращает число переведенных подписок.
// Повторный запуск сразу после успешного прохода ничего не меняет.
func (e *ExpirationSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expirable, err := e.listExpirable(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expirable) == 0 {
		return 0, nil
	}

	expired := 0
	for i := range expirable {
		sub := &expirable[i]
		err := e.updateStatusIf(ctx, sub.ID, domain.SubscriptionStatusOngoing, domain.SubscriptionStatusExpired, sub.EndDate)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				// Подписку успел поменять вебхук (продление или отмена),
				// пропускаем и идем дальше.
				e.log.Debugw("Subscription changed concurrently, skipping",
					"subscription_id", sub.ID)
				continue
			}
			e.metrics.IncSweepErrors()
			e.log.Errorw("Failed to expire subscription",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		expired++
		sub.Status = domain.SubscriptionStatusExpired
		e.log.Infow("Subscription expired",
			"subscription_id", sub.ID, "user_id", sub.UserID, "end_date", sub.EndDate)
		if err := e.producer.PublishSubscriptionEvent(ctx, kafka.TopicSubscriptionExpired, sub); err != nil {
			e.log.Errorw("Failed to publish expiration event",
				"subscription_id", sub.ID, "error", err)
		}
	}
	if expired > 0 {
		e.metrics.IncSubscriptionsExpired(expired)
	}

	e.activatePending(ctx, now)
	return expired, nil
}

// Таймаут хранилища выдается на каждую операцию отдельно, чтобы большой
// бэклог не упирался в общий дедлайн посреди прохода.

func (e *ExpirationSweeper) listExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.ListExpirable(opCtx, now)
}

func (e *ExpirationSweeper) listActivatable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.ListActivatable(opCtx, now)
}

func (e *ExpirationSweeper) updateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.UpdateStatusIf(opCtx, id, from, to, endDate)
}

// activatePending переводит отложенные даунгрейды в Ongoing, когда наступил
// их срок начала. Выполняется после истечения старых подписок, чтобы не
// нарушить инвариант "не более одной Ongoing на пользователя".
func (e *ExpirationSweeper) activatePending(ctx context.Context, now time.Time) {
	pending, err := e.listActivatable(ctx, now)
	if err != nil {
		e.metrics.IncSweepErrors()
		e.log.Errorw("Failed to list pending subscriptions", "error", err)
		return
	}

	for i := range pending {
		sub := &pending[i]
		err := e.updateStatusIf(ctx, sub.ID, domain.SubscriptionStatusPending, domain.SubscriptionStatusOngoing, sub.EndDate)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				continue
			}
			e.metrics.IncSweepErrors()
			e.log.Errorw("Failed to activate pending subscription",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		sub.Status = domain.SubscriptionStatusOngoing
		e.log.Infow("Deferred subscription activated",
			"subscription_id", sub.ID, "user_id", sub.UserID, "plan_id", sub.PlanID)
		if err := e.producer.PublishSubscriptionEvent(ctx, kafka.TopicSubscriptionCreated, sub); err != nil {
			e.log.Errorw("Failed to publish activation event",
				"subscription_id", sub.ID, "error", err)
		}
	}
}
