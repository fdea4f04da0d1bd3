package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/queue"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/pkg/logger"
)

// ProgressService принимает обновления прогресса просмотра и читает
// сохраненные позиции. Запись асинхронная: обновление кладется в очередь и
// попадает в хранилище только на следующем тике ProgressWriter, поэтому
// чтение сразу после записи может вернуть предыдущее значение.
type ProgressService struct {
	queue   *queue.ProgressQueue
	history repository.WatchHistoryStore
	metrics metrics.StreamingMetrics
	log     *logger.Logger
}

// NewProgressService конструктор сервиса прогресса просмотра
func NewProgressService(
	q *queue.ProgressQueue,
	history repository.WatchHistoryStore,
	m metrics.StreamingMetrics,
	log *logger.Logger,
) *ProgressService {
	return &ProgressService{
		queue:   q,
		history: history,
		metrics: m,
		log:     log,
	}
}

// SaveProgress валидирует обновление и ставит его в очередь на запись.
// Не блокируется и не ходит в БД: хвост записи выполняет ProgressWriter.
func (p *ProgressService) SaveProgress(ctx context.Context, userID int64, videoIdentifier string, position int64) error {
	if position < 0 {
		return fmt.Errorf("%w: position must be non-negative", domain.ErrInvalidInput)
	}
	key := NormalizeVideoKey(videoIdentifier)
	if key == "" {
		return fmt.Errorf("%w: empty video identifier", domain.ErrInvalidInput)
	}

	p.queue.Enqueue(domain.ProgressUpdate{
		UserID:          userID,
		VideoKey:        key,
		CurrentPosition: position,
		Timestamp:       time.Now().UTC(),
	})
	p.metrics.IncProgressEnqueued()
	p.metrics.SetProgressQueueSize(p.queue.Size())
	p.log.Debugw("Progress update enqueued",
		"user_id", userID, "video_key", key, "position", position)
	return nil
}

// GetProgress возвращает последнюю сохраненную позицию для пары
// (пользователь, видео). Читает только из хранилища, очередь не учитывается.
func (p *ProgressService) GetProgress(ctx context.Context, userID int64, videoIdentifier string) (*domain.WatchHistory, error) {
	key := NormalizeVideoKey(videoIdentifier)
	if key == "" {
		return nil, fmt.Errorf("%w: empty video identifier", domain.ErrInvalidInput)
	}
	record, err := p.history.Get(ctx, userID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no progress for video %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("loading watch progress: %w", err)
	}
	return record, nil
}

// GetHistory возвращает всю историю просмотра пользователя.
func (p *ProgressService) GetHistory(ctx context.Context, userID int64) ([]domain.WatchHistory, error) {
	records, err := p.history.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading watch history: %w", err)
	}
	return records, nil
}

// NormalizeVideoKey приводит идентификатор видео к каноничному строковому ключу.
// Транспорт принимает и числовые id, и названия; в хранилище и то и другое
// живет как строка: числовой id остается как есть, название приводится к
// нижнему регистру с дефисами вместо пробелов.
func NormalizeVideoKey(identifier string) string {
	key := strings.TrimSpace(identifier)
	if key == "" {
		return ""
	}
	key = strings.ToLower(key)
	return strings.Join(strings.Fields(key), "-")
}
