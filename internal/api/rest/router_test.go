package rest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeWebhook "github.com/stripe/stripe-go/v78/webhook"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/middleware"
	"github.com/streamflix/backend/internal/queue"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/internal/stripe"
	"github.com/streamflix/backend/pkg/logger"
)

var routerTestSecret = []byte("router-test-secret")

type routerFixture struct {
	router *gin.Engine
	store  *repository.InMemorySubscriptionStore
	queue  *queue.ProgressQueue
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.ERROR)

	store := repository.NewInMemorySubscriptionStore(log)
	store.SeedPlan(domain.SubscriptionPlan{ID: 1, Name: "Basic", Price: 19.90, Active: true})
	store.SeedPlan(domain.SubscriptionPlan{ID: 2, Name: "Standard", Price: 29.90, Active: true})

	q := queue.NewProgressQueue()
	history := repository.NewInMemoryWatchHistoryStore(log)

	m := metrics.NoOpMetrics()
	subscriptionSvc := services.NewSubscriptionService(store, stripe.NewStripeClient("sk_test_x", "usd", "https://example.com/ok", "https://example.com/cancel", log), &kafka.NoOpProducer{}, m, log)
	progressSvc := services.NewProgressService(q, history, m, log)

	router := SetupRouter(RouterDeps{
		Subscription: subscriptionSvc,
		Progress:     progressSvc,
		EventParser:  stripe.NewEventParser("whsec_test", log),
		Auth:         middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: routerTestSecret}),
		Registry:     prometheus.NewRegistry(),
		Log:          log,
	})
	return &routerFixture{router: router, store: store, queue: q}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(routerTestSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestRouter_PlansPublic(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/plans", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Basic")
	assert.Contains(t, w.Body.String(), "Standard")
}

func TestRouter_CurrentSubscriptionRequiresAuth(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_CurrentSubscriptionNotFound(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
	req.Header.Set("Authorization", bearerToken(t, "42"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_SaveProgressAccepted(t *testing.T) {
	f := newRouterFixture(t)

	body := strings.NewReader(`{"video_identifier": "The Dark Knight", "current_position": 120}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/watch/progress", body)
	req.Header.Set("Authorization", bearerToken(t, "42"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, f.queue.Size())
}

func TestRouter_GetProgressZeroBeforeFlush(t *testing.T) {
	f := newRouterFixture(t)

	// Позиция еще в очереди, чтение видит только сброшенные значения
	req := httptest.NewRequest(http.MethodGet, "/api/v1/watch/progress/inception", nil)
	req.Header.Set("Authorization", bearerToken(t, "42"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_position":0`)
}

func signedWebhookRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := stripeWebhook.GenerateTestSignedPayload(&stripeWebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestRouter_WebhookAcksCheckoutWithUnknownPlan(t *testing.T) {
	f := newRouterFixture(t)

	// Подписанное событие с несуществующим планом: ретрай бессмысленен,
	// провайдер должен получить 200 и перестать доставлять событие
	req := signedWebhookRequest(t, `{
		"id": "evt_unknown_plan",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_up",
				"subscription": {"id": "sub_unknown_plan"},
				"amount_total": 2990,
				"metadata": {"UserId": "42", "PlanId": "99"}
			}
		}
	}`)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	subs, err := f.store.ListByUser(req.Context(), 42)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRouter_WebhookAcksRenewalForUnknownSubscription(t *testing.T) {
	f := newRouterFixture(t)

	req := signedWebhookRequest(t, `{
		"id": "evt_unknown_sub",
		"type": "invoice.paid",
		"data": {
			"object": {
				"id": "in_up",
				"subscription": {"id": "sub_does_not_exist"},
				"amount_paid": 2990
			}
		}
	}`)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_WebhookRejectsBadSignature(t *testing.T) {
	f := newRouterFixture(t)

	body := strings.NewReader(`{"id": "evt_1", "type": "checkout.session.completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", body)
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
