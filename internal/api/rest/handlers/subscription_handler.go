package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/middleware"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/pkg/logger"
	"github.com/streamflix/backend/pkg/req"
)

// SubscriptionHandler обработчик для подписок и планов
type SubscriptionHandler struct {
	subscription *services.SubscriptionService
	log          *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(subscription *services.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscription: subscription,
		log:          log,
	}
}

// GetPlans возвращает доступные планы подписки
func (h *SubscriptionHandler) GetPlans(c *gin.Context) {
	plans, err := h.subscription.GetActivePlans(c.Request.Context())
	if err != nil {
		h.log.Errorw("Failed to load plans", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetCurrentSubscription возвращает текущую подписку пользователя
func (h *SubscriptionHandler) GetCurrentSubscription(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.subscription.GetCurrentSubscription(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
			return
		}
		h.log.Errorw("Failed to load current subscription", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscription"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CheckoutRequest тело запроса на покупку плана
type CheckoutRequest struct {
	PlanID int64 `json:"plan_id" validate:"required,gt=0"`
}

// CreateCheckoutSession создает checkout-сессию для покупки плана.
// Возвращает URL, на который фронтенд редиректит пользователя.
func (h *SubscriptionHandler) CreateCheckoutSession(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := req.HandleBody[CheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		return
	}
	planID := body.PlanID

	url, err := h.subscription.CreateCheckoutSession(c.Request.Context(), userID, planID)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		h.log.Errorw("Failed to create checkout session",
			"user_id", userID, "plan_id", planID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// CancelSubscription отменяет текущую подписку пользователя
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.subscription.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotOngoing):
			c.JSON(http.StatusNotFound, gin.H{"error": "no ongoing subscription"})
		case errors.Is(err, domain.ErrNoExternalSubscription):
			c.JSON(http.StatusConflict, gin.H{"error": "subscription has no payment provider reference"})
		default:
			h.log.Errorw("Failed to cancel subscription", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
