package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

const (
	// Префиксы ключей для различных типов данных
	planKeyPrefix        = "plan:"
	activePlansKey       = "plans:active"
	currentSubKeyPrefix  = "subscription:current:"

	// TTL для кэша. Планы — неизменяемые записи каталога, им можно долгий TTL;
	// текущая подписка пользователя инвалидируется при каждом переходе.
	planCacheTTL       = 15 * time.Minute
	currentSubCacheTTL = 5 * time.Minute
)

// RedisCacheRepository реализует кеширование для хранилищ с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CachePlan кеширует тарифный план в Redis
func (r *RedisCacheRepository) CachePlan(ctx context.Context, plan *domain.SubscriptionPlan) error {
	key := planKeyPrefix + strconv.FormatInt(plan.ID, 10)

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := r.client.Set(ctx, key, data, planCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache plan in Redis", "error", err, "planID", plan.ID)
		return fmt.Errorf("failed to cache plan: %w", err)
	}

	return nil
}

// GetCachedPlan получает тарифный план из кеша
func (r *RedisCacheRepository) GetCachedPlan(ctx context.Context, planID int64) (*domain.SubscriptionPlan, error) {
	key := planKeyPrefix + strconv.FormatInt(planID, 10)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			return nil, nil
		}
		r.log.Errorw("Error getting plan from Redis", "error", err, "planID", planID)
		return nil, fmt.Errorf("failed to get plan from cache: %w", err)
	}

	var plan domain.SubscriptionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached plan: %w", err)
	}

	return &plan, nil
}

// CacheActivePlans кеширует список активных планов
func (r *RedisCacheRepository) CacheActivePlans(ctx context.Context, plans []domain.SubscriptionPlan) error {
	data, err := json.Marshal(plans)
	if err != nil {
		return fmt.Errorf("failed to marshal plans: %w", err)
	}

	if err := r.client.Set(ctx, activePlansKey, data, planCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache active plans in Redis", "error", err)
		return fmt.Errorf("failed to cache active plans: %w", err)
	}

	return nil
}

// GetCachedActivePlans получает список активных планов из кеша
func (r *RedisCacheRepository) GetCachedActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	data, err := r.client.Get(ctx, activePlansKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.log.Errorw("Error getting active plans from Redis", "error", err)
		return nil, fmt.Errorf("failed to get active plans from cache: %w", err)
	}

	var plans []domain.SubscriptionPlan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached plans: %w", err)
	}

	return plans, nil
}

// CacheCurrentSubscription кеширует текущую подписку пользователя
func (r *RedisCacheRepository) CacheCurrentSubscription(ctx context.Context, sub *domain.UserSubscription) error {
	key := currentSubKeyPrefix + strconv.FormatInt(sub.UserID, 10)

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := r.client.Set(ctx, key, data, currentSubCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache current subscription in Redis", "error", err, "userID", sub.UserID)
		return fmt.Errorf("failed to cache current subscription: %w", err)
	}

	return nil
}

// GetCachedCurrentSubscription получает текущую подписку пользователя из кеша
func (r *RedisCacheRepository) GetCachedCurrentSubscription(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	key := currentSubKeyPrefix + strconv.FormatInt(userID, 10)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.log.Errorw("Error getting current subscription from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get current subscription from cache: %w", err)
	}

	var sub domain.UserSubscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	return &sub, nil
}

// InvalidateCurrentSubscription удаляет кеш текущей подписки пользователя.
// Вызывается при любом переходе статуса подписки этого пользователя.
func (r *RedisCacheRepository) InvalidateCurrentSubscription(ctx context.Context, userID int64) error {
	key := currentSubKeyPrefix + strconv.FormatInt(userID, 10)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate current subscription cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate current subscription cache: %w", err)
	}

	return nil
}
