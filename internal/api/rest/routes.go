package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streamflix/backend/internal/api/rest/handlers"
	"github.com/streamflix/backend/internal/middleware"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/internal/stripe"
	"github.com/streamflix/backend/pkg/logger"
)

// RouterDeps зависимости, необходимые для сборки маршрутизатора.
type RouterDeps struct {
	Subscription *services.SubscriptionService
	Progress     *services.ProgressService
	EventParser  *stripe.EventParser
	Auth         *middleware.JWTMiddleware
	Registry     *prometheus.Registry
	Log          *logger.Logger
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	webhookHandler := handlers.NewWebhookHandler(deps.EventParser, deps.Subscription, deps.Log)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Subscription, deps.Log)
	watchHandler := handlers.NewWatchHandler(deps.Progress, deps.Log)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Вебхуки провайдера: подпись проверяется внутри, JWT не требуется
		v1.POST("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

		// Каталог планов доступен без авторизации
		v1.GET("/subscriptions/plans", subscriptionHandler.GetPlans)

		authorized := v1.Group("")
		authorized.Use(deps.Auth.RequireAuth())
		{
			subscriptions := authorized.Group("/subscriptions")
			{
				subscriptions.GET("/current", subscriptionHandler.GetCurrentSubscription)
				subscriptions.POST("/checkout", subscriptionHandler.CreateCheckoutSession)
				subscriptions.DELETE("/current", subscriptionHandler.CancelSubscription)
			}

			watch := authorized.Group("/watch")
			{
				watch.POST("/progress", watchHandler.SaveProgress)
				watch.GET("/progress/:video", watchHandler.GetProgress)
				watch.GET("/history", watchHandler.GetHistory)
			}
		}
	}

	return r
}
