package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/internal/stripe"
	"github.com/streamflix/backend/pkg/logger"
)

// WebhookHandler обработчик вебхуков платежного провайдера
type WebhookHandler struct {
	parser       *stripe.EventParser
	subscription *services.SubscriptionService
	log          *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(parser *stripe.EventParser, subscription *services.SubscriptionService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:       parser,
		subscription: subscription,
		log:          log,
	}
}

// HandleStripeWebhook принимает вебхук от Stripe: проверяет подпись, разбирает
// событие и применяет его к состоянию подписок. Провайдер ретраит все ответы,
// кроме 2xx: неверная подпись отклоняется с 400, подписанные события с
// неисправимыми данными подтверждаются сервисом как no-op, и только
// переповторяемые ошибки (хранилище, конфликт статусов) возвращаются как 500.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		h.log.Warnw("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read webhook body"})
		return
	}

	// Parse возвращает ошибку только при невалидной подписи, остальные
	// проблемы нагрузки приходят как EventUnrecognized.
	event, err := h.parser.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
		return
	}

	if err := h.subscription.HandleProcessorEvent(c.Request.Context(), event); err != nil {
		h.log.Errorw("Failed to apply processor event",
			"event_id", event.EventID, "kind", string(event.Kind), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
