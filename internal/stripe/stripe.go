package stripe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

const (
	// Ключи метаданных checkout-сессии для связи платежа с пользователем и планом
	metadataUserIDKey = "UserId"
	metadataPlanIDKey = "PlanId"
)

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// CreateCheckoutSession создает checkout-сессию для оформления подписки
	// на план и возвращает URL страницы оплаты. Метаданные сессии несут
	// UserId и PlanId, по которым вебхук позже свяжет платеж с подпиской.
	CreateCheckoutSession(ctx context.Context, userID int64, plan *domain.SubscriptionPlan) (string, error)

	// CancelSubscription отменяет подписку в Stripe без немедленного
	// выставления счета и без пропорционального перерасчета.
	CancelSubscription(ctx context.Context, stripeSubscriptionID string) error
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client     *client.API    // Клиент Stripe SDK
	currency   string
	successURL string
	cancelURL  string
	log        *logger.Logger // Используем ваш кастомный логгер
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey, currency, successURL, cancelURL string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil) // Инициализируем клиент Stripe с API ключом
	return &stripeClient{
		client:     sc,
		currency:   currency,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

// CreateCheckoutSession создает checkout-сессию подписки в Stripe.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, userID int64, plan *domain.SubscriptionPlan) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(sc.currency),
					UnitAmount: stripe.Int64(int64(math.Round(plan.Price * 100))),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("month"),
					},
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(plan.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(sc.successURL),
		CancelURL:  stripe.String(sc.cancelURL),
		Params: stripe.Params{
			Context: ctx,
			// Метаданные позволят вебхуку идентифицировать выбранный план
			Metadata: map[string]string{
				metadataUserIDKey: strconv.FormatInt(userID, 10),
				metadataPlanIDKey: strconv.FormatInt(plan.ID, 10),
			},
		},
	}

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", userID, "planID", plan.ID)
	return session.URL, nil
}

// CancelSubscription отменяет подписку в Stripe. Без InvoiceNow и Prorate:
// локальная запись остается читаемой до естественного конца периода.
func (sc *stripeClient) CancelSubscription(ctx context.Context, stripeSubscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(false),
		Prorate:    stripe.Bool(false),
		Params: stripe.Params{
			Context: ctx,
		},
	}

	_, err := sc.client.Subscriptions.Cancel(stripeSubscriptionID, params)
	if err != nil {
		// Обрабатываем случай, если подписка уже удалена
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			sc.log.Warnw("Attempted to cancel already canceled/missing Stripe subscription", "stripeSubscriptionID", stripeSubscriptionID)
			return nil
		}
		logStripeError(sc.log, "CancelSubscription", err)
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	sc.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", stripeSubscriptionID)
	return nil
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
