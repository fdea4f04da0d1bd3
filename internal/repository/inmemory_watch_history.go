package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// InMemoryWatchHistoryStore реализация хранилища истории просмотра в памяти.
type InMemoryWatchHistoryStore struct {
	rows   map[watchKey]domain.WatchHistory
	nextID int64
	mutex  sync.RWMutex
	log    *logger.Logger

	// FailFor позволяет тестам имитировать сбой записи для конкретного ключа
	FailFor map[watchKey]error
}

type watchKey struct {
	UserID   int64
	VideoKey string
}

// NewInMemoryWatchHistoryStore создает новое хранилище истории просмотра в памяти
func NewInMemoryWatchHistoryStore(log *logger.Logger) *InMemoryWatchHistoryStore {
	return &InMemoryWatchHistoryStore{
		rows:    make(map[watchKey]domain.WatchHistory),
		FailFor: make(map[watchKey]error),
		log:     log,
	}
}

// FailOn настраивает имитацию сбоя записи для пары (userID, videoKey)
func (r *InMemoryWatchHistoryStore) FailOn(userID int64, videoKey string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.FailFor[watchKey{UserID: userID, VideoKey: videoKey}] = err
}

// Upsert записывает позицию просмотра: обновляет существующую строку или создает новую
func (r *InMemoryWatchHistoryStore) Upsert(ctx context.Context, update domain.ProgressUpdate) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := watchKey{UserID: update.UserID, VideoKey: update.VideoKey}
	if err, ok := r.FailFor[key]; ok {
		return err
	}

	existing, exists := r.rows[key]
	if exists {
		existing.CurrentPosition = update.CurrentPosition
		existing.LastUpdated = time.Now().UTC()
		r.rows[key] = existing
		return nil
	}

	r.nextID++
	r.rows[key] = domain.WatchHistory{
		ID:              r.nextID,
		UserID:          update.UserID,
		VideoKey:        update.VideoKey,
		CurrentPosition: update.CurrentPosition,
		LastUpdated:     time.Now().UTC(),
	}

	return nil
}

// Get возвращает запись для пары (userID, videoKey)
func (r *InMemoryWatchHistoryStore) Get(ctx context.Context, userID int64, videoKey string) (*domain.WatchHistory, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	row, exists := r.rows[watchKey{UserID: userID, VideoKey: videoKey}]
	if !exists {
		return nil, ErrNotFound
	}

	return &row, nil
}

// ListByUser возвращает всю историю просмотра пользователя
func (r *InMemoryWatchHistoryStore) ListByUser(ctx context.Context, userID int64) ([]domain.WatchHistory, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var rows []domain.WatchHistory
	for _, row := range r.rows {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastUpdated.After(rows[j].LastUpdated)
	})

	return rows, nil
}

// Count возвращает общее число строк (для тестов)
func (r *InMemoryWatchHistoryStore) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.rows)
}
