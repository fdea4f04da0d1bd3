package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// postgresWatchHistoryStore реализует WatchHistoryStore для PostgreSQL.
type postgresWatchHistoryStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresWatchHistoryStore создает новый экземпляр хранилища истории просмотра для PostgreSQL.
func NewPostgresWatchHistoryStore(db *sqlx.DB, log *logger.Logger) WatchHistoryStore {
	return &postgresWatchHistoryStore{
		db:  db,
		log: log,
	}
}

// Upsert записывает позицию просмотра: обновляет существующую строку или
// создает новую. Уникальный индекс по (user_id, video_key).
func (r *postgresWatchHistoryStore) Upsert(ctx context.Context, update domain.ProgressUpdate) error {
	query := `
        INSERT INTO watch_history (user_id, video_key, current_position, last_updated)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (user_id, video_key) DO UPDATE SET
            current_position = EXCLUDED.current_position,
            last_updated = NOW()`

	_, err := r.db.ExecContext(ctx, query, update.UserID, update.VideoKey, update.CurrentPosition)
	if err != nil {
		r.log.Errorw("Failed to upsert watch history row", "error", err, "userID", update.UserID, "videoKey", update.VideoKey)
		return fmt.Errorf("repository: failed to upsert watch history: %w", err)
	}

	return nil
}

// Get возвращает последнюю сброшенную запись для пары (userID, videoKey).
func (r *postgresWatchHistoryStore) Get(ctx context.Context, userID int64, videoKey string) (*domain.WatchHistory, error) {
	var history domain.WatchHistory
	query := `
        SELECT id, user_id, video_key, current_position, last_updated
        FROM watch_history
        WHERE user_id = $1 AND video_key = $2`

	err := r.db.GetContext(ctx, &history, query, userID, videoKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get watch history row", "error", err, "userID", userID, "videoKey", videoKey)
		return nil, fmt.Errorf("repository: failed to get watch history: %w", err)
	}

	return &history, nil
}

// ListByUser возвращает всю историю просмотра пользователя.
func (r *postgresWatchHistoryStore) ListByUser(ctx context.Context, userID int64) ([]domain.WatchHistory, error) {
	var rows []domain.WatchHistory
	query := `
        SELECT id, user_id, video_key, current_position, last_updated
        FROM watch_history
        WHERE user_id = $1
        ORDER BY last_updated DESC`

	err := r.db.SelectContext(ctx, &rows, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.WatchHistory{}, nil
		}
		r.log.Errorw("Failed to list watch history rows", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to list watch history: %w", err)
	}

	return rows, nil
}
