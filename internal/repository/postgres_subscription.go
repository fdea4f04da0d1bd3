package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// postgresSubscriptionStore реализует SubscriptionStore для PostgreSQL.
type postgresSubscriptionStore struct {
	db  *sqlx.DB       // Подключение к БД через sqlx
	log *logger.Logger // Ваш логгер
}

// NewPostgresSubscriptionStore создает новый экземпляр хранилища подписок для PostgreSQL.
func NewPostgresSubscriptionStore(db *sqlx.DB, log *logger.Logger) SubscriptionStore {
	return &postgresSubscriptionStore{
		db:  db,
		log: log,
	}
}

// planRow промежуточная структура для маппинга плана из БД
// (features хранится как jsonb)
type planRow struct {
	ID         int64   `db:"id"`
	Name       string  `db:"name"`
	Price      float64 `db:"price"`
	Quality    string  `db:"quality"`
	MaxStreams int     `db:"max_streams"`
	Features   []byte  `db:"features"`
	Active     bool    `db:"active"`
}

func (r planRow) toDomain() (domain.SubscriptionPlan, error) {
	plan := domain.SubscriptionPlan{
		ID:         r.ID,
		Name:       r.Name,
		Price:      r.Price,
		Quality:    r.Quality,
		MaxStreams: r.MaxStreams,
		Active:     r.Active,
	}
	if len(r.Features) > 0 {
		if err := json.Unmarshal(r.Features, &plan.Features); err != nil {
			return plan, fmt.Errorf("repository: failed to unmarshal plan features: %w", err)
		}
	}
	return plan, nil
}

// Insert сохраняет новую запись подписки в базе данных.
func (r *postgresSubscriptionStore) Insert(ctx context.Context, sub *domain.UserSubscription) error {
	// Добавляем время создания и обновления перед вставкой
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO user_subscriptions (
            id, user_id, plan_id, external_subscription_id, status,
            start_date, end_date, created_at, updated_at
        ) VALUES (
            :id, :user_id, :plan_id, :external_subscription_id, :status,
            :start_date, :end_date, :created_at, :updated_at
        )`
	// Используем NamedExecContext для удобного маппинга полей структуры на параметры запроса
	_, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		r.log.Errorw("Failed to insert subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to insert subscription: %w", err)
	}

	r.log.Debugw("Successfully inserted subscription in DB", "subscriptionID", sub.ID, "userID", sub.UserID)
	return nil
}

// GetByID возвращает подписку по ее ID.
func (r *postgresSubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSubscription, error) {
	var sub domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE id = $1`

	err := r.db.GetContext(ctx, &sub, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Subscription not found by ID", "subscriptionID", id)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}

	return &sub, nil
}

// GetOngoingByUser возвращает действующую подписку пользователя.
func (r *postgresSubscriptionStore) GetOngoingByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	var sub domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE user_id = $1 AND status = $2
        ORDER BY created_at DESC
        LIMIT 1`

	err := r.db.GetContext(ctx, &sub, query, userID, domain.SubscriptionStatusOngoing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get ongoing subscription from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get ongoing subscription: %w", err)
	}

	return &sub, nil
}

// GetCurrentByUser возвращает текущую подписку пользователя:
// Ongoing либо Cancelled, срок которой еще не истек.
func (r *postgresSubscriptionStore) GetCurrentByUser(ctx context.Context, userID int64) (*domain.UserSubscription, error) {
	var sub domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE user_id = $1
          AND (status = $2 OR (status = $3 AND end_date > $4))
        ORDER BY created_at DESC
        LIMIT 1`

	err := r.db.GetContext(ctx, &sub, query, userID,
		domain.SubscriptionStatusOngoing, domain.SubscriptionStatusCancelled, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get current subscription from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get current subscription: %w", err)
	}

	return &sub, nil
}

// GetByExternalID возвращает подписку по идентификатору во внешнем провайдере.
func (r *postgresSubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*domain.UserSubscription, error) {
	var sub domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE external_subscription_id = $1
        ORDER BY created_at DESC
        LIMIT 1`

	err := r.db.GetContext(ctx, &sub, query, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by external ID from DB", "error", err, "externalID", externalID)
		return nil, fmt.Errorf("repository: failed to get subscription by external ID: %w", err)
	}

	return &sub, nil
}

// ListByUser возвращает всю историю подписок пользователя.
func (r *postgresSubscriptionStore) ListByUser(ctx context.Context, userID int64) ([]domain.UserSubscription, error) {
	var subs []domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &subs, query, userID)
	if err != nil {
		// Ошибку sql.ErrNoRows не считаем критической для списка, вернем пустой слайс
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.UserSubscription{}, nil
		}
		r.log.Errorw("Failed to list subscriptions by user ID from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to list subscriptions: %w", err)
	}

	return subs, nil
}

// UpdateStatusIf переводит подписку из статуса from в to при условии,
// что статус записи все еще равен from (условная запись).
func (r *postgresSubscriptionStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.SubscriptionStatus, endDate time.Time) error {
	query := `
        UPDATE user_subscriptions SET
            status = $1,
            end_date = $2,
            updated_at = $3
        WHERE id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, to, endDate, time.Now().UTC(), id, from)
	if err != nil {
		r.log.Errorw("Failed to update subscription status in DB", "error", err, "subscriptionID", id, "from", from, "to", to)
		return fmt.Errorf("repository: failed to update subscription status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after status update", "error", err, "subscriptionID", id)
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Статус изменился между чтением и записью: проиграли гонку другому писателю
		r.log.Warnw("Conditional status update affected 0 rows", "subscriptionID", id, "from", from, "to", to)
		return ErrStatusConflict
	}

	r.log.Debugw("Successfully updated subscription status", "subscriptionID", id, "from", from, "to", to)
	return nil
}

// ExtendPeriodIf продлевает подписку и принудительно выставляет Ongoing,
// но только если текущий статус записи равен from.
func (r *postgresSubscriptionStore) ExtendPeriodIf(ctx context.Context, id uuid.UUID, from domain.SubscriptionStatus, endDate time.Time) error {
	query := `
        UPDATE user_subscriptions SET
            status = $1,
            end_date = $2,
            updated_at = $3
        WHERE id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, domain.SubscriptionStatusOngoing, endDate, time.Now().UTC(), id, from)
	if err != nil {
		r.log.Errorw("Failed to extend subscription period in DB", "error", err, "subscriptionID", id)
		return fmt.Errorf("repository: failed to extend subscription period: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Conditional period extension affected 0 rows", "subscriptionID", id, "from", from)
		return ErrStatusConflict
	}

	r.log.Debugw("Successfully extended subscription period", "subscriptionID", id, "endDate", endDate)
	return nil
}

// ListExpirable возвращает Ongoing-подписки с end_date <= now.
func (r *postgresSubscriptionStore) ListExpirable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	var subs []domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE status = $1 AND end_date <= $2`

	err := r.db.SelectContext(ctx, &subs, query, domain.SubscriptionStatusOngoing, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.UserSubscription{}, nil
		}
		r.log.Errorw("Failed to list expirable subscriptions from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to list expirable subscriptions: %w", err)
	}

	return subs, nil
}

// ListActivatable возвращает Pending-подписки с start_date <= now.
func (r *postgresSubscriptionStore) ListActivatable(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	var subs []domain.UserSubscription
	query := `
        SELECT id, user_id, plan_id, external_subscription_id, status,
               start_date, end_date, created_at, updated_at
        FROM user_subscriptions
        WHERE status = $1 AND start_date <= $2`

	err := r.db.SelectContext(ctx, &subs, query, domain.SubscriptionStatusPending, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.UserSubscription{}, nil
		}
		r.log.Errorw("Failed to list activatable subscriptions from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to list activatable subscriptions: %w", err)
	}

	return subs, nil
}

// GetPlan возвращает тарифный план по ID.
func (r *postgresSubscriptionStore) GetPlan(ctx context.Context, planID int64) (*domain.SubscriptionPlan, error) {
	var row planRow
	query := `
        SELECT id, name, price, quality, max_streams, features, active
        FROM subscription_plans
        WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Subscription plan not found", "planID", planID)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get plan from DB", "error", err, "planID", planID)
		return nil, fmt.Errorf("repository: failed to get plan: %w", err)
	}

	plan, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetActivePlans возвращает активные тарифные планы в порядке ID.
func (r *postgresSubscriptionStore) GetActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	var rows []planRow
	query := `
        SELECT id, name, price, quality, max_streams, features, active
        FROM subscription_plans
        WHERE active = TRUE
        ORDER BY id`

	err := r.db.SelectContext(ctx, &rows, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.SubscriptionPlan{}, nil
		}
		r.log.Errorw("Failed to get active plans from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to get active plans: %w", err)
	}

	plans := make([]domain.SubscriptionPlan, 0, len(rows))
	for _, row := range rows {
		plan, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	return plans, nil
}
