package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки пользователя
type SubscriptionStatus string

const (
	// SubscriptionStatusOngoing действующая подписка
	SubscriptionStatusOngoing SubscriptionStatus = "ongoing"
	// SubscriptionStatusPending отложенная подписка (даунгрейд, начнет действовать после текущей)
	SubscriptionStatusPending SubscriptionStatus = "pending"
	// SubscriptionStatusCancelled отмененная пользователем подписка (действует до конца периода)
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	// SubscriptionStatusExpired истекшая подписка
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// BillingPeriod длительность одного расчетного периода
const BillingPeriod = time.Hour * 24 * 30

// RenewalGraceWindow окно после истечения, в течение которого поздний
// платеж за продление все еще реактивирует подписку
const RenewalGraceWindow = 24 * time.Hour

// SubscriptionPlan представляет собой тарифный план из каталога.
// Записи каталога неизменяемы для этого сервиса.
type SubscriptionPlan struct {
	ID         int64    `json:"id" db:"id"`
	Name       string   `json:"name" db:"name"`
	Price      float64  `json:"price" db:"price"`
	Quality    string   `json:"quality" db:"quality"`
	MaxStreams int      `json:"max_streams" db:"max_streams"`
	Features   []string `json:"features" db:"-"`
	Active     bool     `json:"active" db:"active"`
}

// UserSubscription представляет собой подписку пользователя.
// Записи никогда не удаляются: история подписок пользователя append-only.
// Инвариант: у пользователя не более одной записи в статусе Ongoing.
type UserSubscription struct {
	ID                     uuid.UUID          `json:"id" db:"id"`
	UserID                 int64              `json:"user_id" db:"user_id"`
	PlanID                 int64              `json:"plan_id" db:"plan_id"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	StartDate              time.Time          `json:"start_date" db:"start_date"`
	EndDate                time.Time          `json:"end_date" db:"end_date"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// IsWithinGraceWindow сообщает, попадает ли момент now в льготное окно
// после даты окончания подписки
func (s *UserSubscription) IsWithinGraceWindow(now time.Time) bool {
	return now.Sub(s.EndDate) < RenewalGraceWindow
}
