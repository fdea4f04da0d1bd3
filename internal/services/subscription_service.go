package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/internal/stripe"
	"github.com/streamflix/backend/pkg/logger"
)

// SubscriptionService отвечает за жизненный цикл подписок: обработка событий
// платёжного провайдера, создание checkout-сессий, отмена и чтение текущего состояния.
type SubscriptionService struct {
	store    repository.SubscriptionStore
	proc     stripe.Client
	producer kafka.Producer
	metrics  metrics.StreamingMetrics
	log      *logger.Logger
}

// NewSubscriptionService конструктор сервиса подписок
func NewSubscriptionService(
	store repository.SubscriptionStore,
	proc stripe.Client,
	producer kafka.Producer,
	m metrics.StreamingMetrics,
	log *logger.Logger,
) *SubscriptionService {
	if producer == nil {
		log.Warnw("Kafka producer is nil, subscription events will not be published")
		producer = &kafka.NoOpProducer{}
	}
	return &SubscriptionService{
		store:    store,
		proc:     proc,
		producer: producer,
		metrics:  m,
		log:      log,
	}
}

// HandleProcessorEvent применяет проверенное событие платёжного провайдера к локальному
// состоянию подписок. Вызывается только после успешной проверки подписи вебхука.
func (s *SubscriptionService) HandleProcessorEvent(ctx context.Context, event domain.ProcessorEvent) error {
	switch event.Kind {
	case domain.EventCheckoutCompleted:
		return s.finishEvent(event, s.applyCheckoutCompleted(ctx, event))
	case domain.EventRecurringPaymentSucceeded:
		return s.finishEvent(event, s.applyRecurringPayment(ctx, event))
	default:
		// Нераспознанные, но подписанные события подтверждаем без обработки,
		// иначе провайдер будет бесконечно их ретраить.
		s.log.Debugw("Ignoring unrecognized processor event", "event_id", event.EventID)
		s.metrics.IncWebhookEvent(string(domain.EventUnrecognized), "ignored")
		return nil
	}
}

// applyCheckoutCompleted обрабатывает завершение оплаты новой подписки.
// Таблица переходов: нет активной подписки -> новая Ongoing; более дешёвый план ->
// отложенная Pending со start = конец текущего периода; более дорогой или тот же план ->
// текущая закрывается сейчас, новая начинается сразу.
func (s *SubscriptionService) applyCheckoutCompleted(ctx context.Context, event domain.ProcessorEvent) error {
	if event.UserID == 0 || event.PlanID == 0 {
		s.log.Warnw("Checkout event without user or plan metadata", "event_id", event.EventID)
		return fmt.Errorf("%w: checkout event missing metadata", domain.ErrInvalidInput)
	}

	// Дедупликация по внешнему идентификатору: повторная доставка того же
	// события не должна создавать вторую подписку.
	if event.ExternalSubscriptionID != "" {
		existing, err := s.store.GetByExternalID(ctx, event.ExternalSubscriptionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("checking duplicate checkout: %w", err)
		}
		if existing != nil {
			s.log.Infow("Duplicate checkout event, subscription already exists",
				"event_id", event.EventID,
				"external_subscription_id", event.ExternalSubscriptionID,
				"subscription_id", existing.ID)
			return nil
		}
	}

	plan, err := s.store.GetPlan(ctx, event.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: plan %d", domain.ErrPlanNotFound, event.PlanID)
		}
		return fmt.Errorf("loading plan %d: %w", event.PlanID, err)
	}

	now := time.Now().UTC()
	current, err := s.store.GetOngoingByUser(ctx, event.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("loading ongoing subscription for user %d: %w", event.UserID, err)
	}

	// Нет активной подписки: просто создаём новую.
	if current == nil {
		sub := s.newSubscription(event, now, now.Add(domain.BillingPeriod), domain.SubscriptionStatusOngoing)
		if err := s.store.Insert(ctx, sub); err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
		s.log.Infow("Subscription created",
			"subscription_id", sub.ID, "user_id", event.UserID, "plan_id", event.PlanID)
		s.publishSubscriptionEvent(ctx, kafka.TopicSubscriptionCreated, sub)
		return nil
	}

	currentPlan, err := s.store.GetPlan(ctx, current.PlanID)
	if err != nil {
		return fmt.Errorf("loading current plan %d: %w", current.PlanID, err)
	}

	if plan.Price < currentPlan.Price {
		// Даунгрейд: текущий оплаченный период дорабатывает до конца,
		// новый план вступает в силу после него.
		sub := s.newSubscription(event, current.EndDate, current.EndDate.Add(domain.BillingPeriod), domain.SubscriptionStatusPending)
		if err := s.store.Insert(ctx, sub); err != nil {
			return fmt.Errorf("inserting pending subscription: %w", err)
		}
		s.log.Infow("Downgrade scheduled",
			"subscription_id", sub.ID, "user_id", event.UserID,
			"plan_id", event.PlanID, "starts_at", sub.StartDate)
		s.publishSubscriptionEvent(ctx, kafka.TopicSubscriptionCreated, sub)
		return nil
	}

	// Апгрейд или повторная покупка того же плана: старая подписка закрывается
	// немедленно, новая начинается с текущего момента.
	err = s.store.UpdateStatusIf(ctx, current.ID, domain.SubscriptionStatusOngoing, domain.SubscriptionStatusExpired, now)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// Статус успел измениться параллельным процессом, событие можно
			// безопасно обработать заново при следующей доставке.
			return fmt.Errorf("%w: subscription %s changed concurrently", domain.ErrStatusConflict, current.ID)
		}
		return fmt.Errorf("expiring subscription %s: %w", current.ID, err)
	}
	sub := s.newSubscription(event, now, now.Add(domain.BillingPeriod), domain.SubscriptionStatusOngoing)
	if err := s.store.Insert(ctx, sub); err != nil {
		return fmt.Errorf("inserting upgraded subscription: %w", err)
	}
	s.log.Infow("Subscription upgraded",
		"subscription_id", sub.ID, "user_id", event.UserID,
		"previous_subscription_id", current.ID, "plan_id", event.PlanID)
	s.publishSubscriptionEvent(ctx, kafka.TopicSubscriptionCreated, sub)
	return nil
}

// applyRecurringPayment продлевает подписку после успешного регулярного списания.
// Продление допускается для Ongoing подписки, а также для Expired, если платёж
// пришёл в пределах льготного окна после истечения.
func (s *SubscriptionService) applyRecurringPayment(ctx context.Context, event domain.ProcessorEvent) error {
	if event.ExternalSubscriptionID == "" {
		s.log.Warnw("Recurring payment event without subscription reference", "event_id", event.EventID)
		return fmt.Errorf("%w: recurring payment missing subscription id", domain.ErrInvalidInput)
	}

	sub, err := s.store.GetByExternalID(ctx, event.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Recurring payment for unknown subscription",
				"event_id", event.EventID,
				"external_subscription_id", event.ExternalSubscriptionID)
			return fmt.Errorf("%w: external id %s", domain.ErrSubscriptionNotFound, event.ExternalSubscriptionID)
		}
		return fmt.Errorf("loading subscription by external id: %w", err)
	}

	now := time.Now().UTC()
	switch sub.Status {
	case domain.SubscriptionStatusOngoing:
		err = s.store.ExtendPeriodIf(ctx, sub.ID, domain.SubscriptionStatusOngoing, sub.EndDate.Add(domain.BillingPeriod))
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return fmt.Errorf("%w: subscription %s changed concurrently", domain.ErrStatusConflict, sub.ID)
			}
			return fmt.Errorf("extending subscription %s: %w", sub.ID, err)
		}
		s.log.Infow("Subscription renewed",
			"subscription_id", sub.ID, "user_id", sub.UserID,
			"new_end_date", sub.EndDate.Add(domain.BillingPeriod))
		return nil
	case domain.SubscriptionStatusExpired:
		if !sub.IsWithinGraceWindow(now) {
			s.log.Warnw("Recurring payment outside grace window, ignoring",
				"subscription_id", sub.ID, "end_date", sub.EndDate)
			return nil
		}
		// Реактивация: период считается от старого конца, а не от момента оплаты,
		// пользователь не теряет оплаченные дни.
		err = s.store.UpdateStatusIf(ctx, sub.ID, domain.SubscriptionStatusExpired, domain.SubscriptionStatusOngoing, sub.EndDate.Add(domain.BillingPeriod))
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return fmt.Errorf("%w: subscription %s changed concurrently", domain.ErrStatusConflict, sub.ID)
			}
			return fmt.Errorf("reactivating subscription %s: %w", sub.ID, err)
		}
		s.log.Infow("Subscription reactivated within grace window",
			"subscription_id", sub.ID, "user_id", sub.UserID)
		return nil
	default:
		s.log.Warnw("Recurring payment for subscription in terminal status, ignoring",
			"subscription_id", sub.ID, "status", string(sub.Status))
		return nil
	}
}

// CancelSubscription отменяет активную подписку пользователя. Сначала отмена
// выполняется у платёжного провайдера; локальный статус меняется только после
// его успешного ответа, чтобы не рассинхронизировать биллинг.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, userID int64) error {
	sub, err := s.store.GetOngoingByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: user %d has no ongoing subscription", domain.ErrSubscriptionNotOngoing, userID)
		}
		return fmt.Errorf("loading ongoing subscription: %w", err)
	}
	if sub.ExternalSubscriptionID == "" {
		s.log.Warnw("Cancellation requested for subscription without external id",
			"subscription_id", sub.ID, "user_id", userID)
		return fmt.Errorf("%w: subscription %s", domain.ErrNoExternalSubscription, sub.ID)
	}

	if err := s.proc.CancelSubscription(ctx, sub.ExternalSubscriptionID); err != nil {
		s.log.Errorw("Payment provider cancellation failed, local state untouched",
			"subscription_id", sub.ID, "error", err)
		return fmt.Errorf("cancelling at payment provider: %w", err)
	}

	err = s.store.UpdateStatusIf(ctx, sub.ID, domain.SubscriptionStatusOngoing, domain.SubscriptionStatusCancelled, sub.EndDate)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// У провайдера подписка уже отменена, а локально статус сменился
			// параллельно. Считаем отмену состоявшейся.
			s.log.Warnw("Subscription status changed concurrently during cancellation",
				"subscription_id", sub.ID)
			return nil
		}
		return fmt.Errorf("marking subscription cancelled: %w", err)
	}

	s.log.Infow("Subscription cancelled", "subscription_id", sub.ID, "user_id", userID)
	s.publishSubscriptionEvent(ctx, kafka.TopicSubscriptionCancelled, sub)
	return nil
}

// CreateCheckoutSession создаёт checkout-сессию провайдера для покупки плана.
func (s *SubscriptionService) CreateCheckoutSession(ctx context.Context, userID, planID int64) (string, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: plan %d", domain.ErrPlanNotFound, planID)
		}
		return "", fmt.Errorf("loading plan %d: %w", planID, err)
	}
	if !plan.Active {
		return "", fmt.Errorf("%w: plan %d is not available", domain.ErrPlanNotFound, planID)
	}

	url, err := s.proc.CreateCheckoutSession(ctx, userID, plan)
	if err != nil {
		return "", fmt.Errorf("creating checkout session: %w", err)
	}
	s.log.Infow("Checkout session created", "user_id", userID, "plan_id", planID)
	return url, nil
}

// GetCurrentSubscription возвращает действующую подписку пользователя
// (Ongoing или ближайшую Pending, если активной нет).
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	sub, err := s.store.GetCurrentByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", domain.ErrSubscriptionNotFound, userID)
		}
		return nil, fmt.Errorf("loading current subscription: %w", err)
	}
	return sub, nil
}

// GetActivePlans возвращает список доступных для покупки планов.
func (s *SubscriptionService) GetActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	plans, err := s.store.GetActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading plans: %w", err)
	}
	return plans, nil
}

func (s *SubscriptionService) newSubscription(event domain.ProcessorEvent, start, end time.Time, status domain.SubscriptionStatus) *domain.UserSubscription {
	now := time.Now().UTC()
	return &domain.UserSubscription{
		ID:                     uuid.New(),
		UserID:                 event.UserID,
		PlanID:                 event.PlanID,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		Status:                 status,
		StartDate:              start,
		EndDate:                end,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// finishEvent закрывает обработку события провайдера. Ошибки, которые повторная
// доставка не исправит (битые метаданные, ссылка на несуществующий план или
// подписку), логируются и подтверждаются без изменения состояния, иначе
// провайдер будет ретраить такое событие бесконечно. Ошибки хранилища и
// конфликты статусов возвращаются наружу, их ретрай имеет смысл.
func (s *SubscriptionService) finishEvent(event domain.ProcessorEvent, err error) error {
	if err != nil && isUnresolvableEventError(err) {
		s.log.Warnw("Dropping processor event, redelivery will not help",
			"event_id", event.EventID, "kind", string(event.Kind), "error", err)
		s.metrics.IncWebhookEvent(string(event.Kind), "dropped")
		return nil
	}
	s.trackWebhookOutcome(event.Kind, err)
	return err
}

func isUnresolvableEventError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrPlanNotFound) ||
		errors.Is(err, domain.ErrSubscriptionNotFound)
}

func (s *SubscriptionService) trackWebhookOutcome(kind domain.ProcessorEventKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.IncWebhookEvent(string(kind), outcome)
}

func (s *SubscriptionService) publishSubscriptionEvent(ctx context.Context, topic string, sub *domain.UserSubscription) {
	// Публикация событий не должна валить основную операцию.
	if err := s.producer.PublishSubscriptionEvent(ctx, topic, sub); err != nil {
		s.log.Errorw("Failed to publish subscription event",
			"topic", topic, "subscription_id", sub.ID, "error", err)
	}
}
