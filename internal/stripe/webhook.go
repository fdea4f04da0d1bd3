package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// EventParser проверяет подпись вебхук-событий Stripe и переводит их
// в доменные события процессора.
type EventParser struct {
	webhookSecret string
	log           *logger.Logger
}

// NewEventParser создает новый парсер вебхук-событий
func NewEventParser(webhookSecret string, log *logger.Logger) *EventParser {
	return &EventParser{
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// Parse проверяет подпись и разбирает полезную нагрузку в доменное событие.
// Ошибка возвращается ТОЛЬКО при невалидной подписи или нечитаемом JSON:
// такие запросы отклоняются на границе. Событие неизвестного типа или с
// неполными метаданными приходит как EventUnrecognized и молча игнорируется
// реконсилятором, чтобы процессор не получал повод для повторной доставки.
func (p *EventParser) Parse(payload []byte, signatureHeader string) (domain.ProcessorEvent, error) {
	// Stripe присылает события с версией API аккаунта, она может не совпадать
	// с версией SDK. Проверяем только подпись, расхождение версий не повод
	// отбрасывать событие.
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		p.log.Warnw("Stripe webhook signature verification failed", "error", err)
		return domain.ProcessorEvent{}, fmt.Errorf("stripe: %w: %v", domain.ErrWebhookValidationFailed, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return p.parseCheckoutCompleted(event)
	case "invoice.paid", "invoice.payment_succeeded":
		return p.parseRecurringPayment(event)
	default:
		p.log.Debugw("Ignored Stripe webhook event type", "type", string(event.Type), "eventID", event.ID)
		return domain.ProcessorEvent{Kind: domain.EventUnrecognized, EventID: event.ID}, nil
	}
}

// parseCheckoutCompleted разбирает завершенную checkout-сессию.
func (p *EventParser) parseCheckoutCompleted(event stripe.Event) (domain.ProcessorEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		p.log.Warnw("Failed to parse checkout session payload", "error", err, "eventID", event.ID)
		// Неразбираемая нагрузка при валидной подписи — событие игнорируется
		return domain.ProcessorEvent{Kind: domain.EventUnrecognized, EventID: event.ID}, nil
	}

	userID, okUser := parseMetadataID(session.Metadata, metadataUserIDKey)
	planID, okPlan := parseMetadataID(session.Metadata, metadataPlanIDKey)
	if !okUser || !okPlan {
		p.log.Warnw("Checkout session metadata is missing user or plan id", "eventID", event.ID, "sessionID", session.ID)
		return domain.ProcessorEvent{Kind: domain.EventUnrecognized, EventID: event.ID}, nil
	}

	externalID := ""
	if session.Subscription != nil {
		externalID = session.Subscription.ID
	}

	return domain.ProcessorEvent{
		Kind:                   domain.EventCheckoutCompleted,
		EventID:                event.ID,
		UserID:                 userID,
		PlanID:                 planID,
		ExternalSubscriptionID: externalID,
		Amount:                 float64(session.AmountTotal) / 100,
	}, nil
}

// parseRecurringPayment разбирает оплаченный счет продления.
func (p *EventParser) parseRecurringPayment(event stripe.Event) (domain.ProcessorEvent, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		p.log.Warnw("Failed to parse invoice payload", "error", err, "eventID", event.ID)
		return domain.ProcessorEvent{Kind: domain.EventUnrecognized, EventID: event.ID}, nil
	}

	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		p.log.Warnw("Invoice event has no subscription reference", "eventID", event.ID, "invoiceID", invoice.ID)
		return domain.ProcessorEvent{Kind: domain.EventUnrecognized, EventID: event.ID}, nil
	}

	return domain.ProcessorEvent{
		Kind:                   domain.EventRecurringPaymentSucceeded,
		EventID:                event.ID,
		ExternalSubscriptionID: invoice.Subscription.ID,
		Amount:                 float64(invoice.AmountPaid) / 100,
	}, nil
}

// parseMetadataID извлекает числовой идентификатор из метаданных
func parseMetadataID(metadata map[string]string, key string) (int64, bool) {
	raw, ok := metadata[key]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
