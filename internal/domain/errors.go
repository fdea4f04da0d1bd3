package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized пользователь не авторизован
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrPlanNotFound тарифный план не найден
	ErrPlanNotFound = errors.New("subscription plan not found")

	// ErrSubscriptionNotFound подписка не найдена
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionNotOngoing подписка не в статусе Ongoing
	ErrSubscriptionNotOngoing = errors.New("subscription is not ongoing")

	// ErrNoExternalSubscription у подписки нет идентификатора во внешнем провайдере
	ErrNoExternalSubscription = errors.New("subscription has no external subscription id")

	// ErrStatusConflict статус записи изменился между чтением и записью
	ErrStatusConflict = errors.New("subscription status changed concurrently")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
)

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error: %s: %v", e.Service, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error: %s", e.Service, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// Is проверяет, является ли ошибка ошибкой внешнего сервиса
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalServiceUnavailable
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, message string, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Message:     message,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
