package repository

import (
	"context"

	"github.com/streamflix/backend/internal/domain"
)

// WatchHistoryStore определяет методы для работы с хранилищем прогресса
// просмотра. Строка истории уникальна по паре (user_id, video_key).
type WatchHistoryStore interface {
	// Upsert записывает позицию просмотра: обновляет существующую строку
	// (user_id, video_key) или создает новую. Каждая запись — отдельная
	// транзакция.
	Upsert(ctx context.Context, update domain.ProgressUpdate) error

	// Get возвращает последнюю сброшенную на диск запись для пары
	// (userID, videoKey) или ErrNotFound.
	Get(ctx context.Context, userID int64, videoKey string) (*domain.WatchHistory, error)

	// ListByUser возвращает всю историю просмотра пользователя.
	ListByUser(ctx context.Context, userID int64) ([]domain.WatchHistory, error)
}
