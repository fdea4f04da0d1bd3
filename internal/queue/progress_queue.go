package queue

import (
	"sync"

	"github.com/streamflix/backend/internal/domain"
)

// ProgressQueue потокобезопасная FIFO-очередь обновлений прогресса просмотра.
// Продюсеры — обработчики запросов (по одному на запрос), консьюмер ровно
// один — фоновый писатель. Enqueue никогда не блокирует и не падает.
// Дедупликации при постановке нет: склейка по ключу — задача писателя
// на этапе сброса, чтобы каждое обновление дошло до аналитики.
type ProgressQueue struct {
	mutex   sync.Mutex
	entries []domain.ProgressUpdate
}

// NewProgressQueue создает новую очередь обновлений прогресса
func NewProgressQueue() *ProgressQueue {
	return &ProgressQueue{}
}

// Enqueue добавляет обновление в конец очереди
func (q *ProgressQueue) Enqueue(update domain.ProgressUpdate) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.entries = append(q.entries, update)
}

// DequeueBatch извлекает и возвращает до maxSize самых старых обновлений.
// Возвращает меньше, если очередь короче, и пустой слайс, если очередь пуста.
func (q *ProgressQueue) DequeueBatch(maxSize int) []domain.ProgressUpdate {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if maxSize <= 0 || len(q.entries) == 0 {
		return []domain.ProgressUpdate{}
	}

	n := maxSize
	if n > len(q.entries) {
		n = len(q.entries)
	}

	batch := make([]domain.ProgressUpdate, n)
	copy(batch, q.entries[:n])

	// Сдвигаем остаток в начало, чтобы не держать ссылку на извлеченные элементы
	remaining := copy(q.entries, q.entries[n:])
	for i := remaining; i < len(q.entries); i++ {
		q.entries[i] = domain.ProgressUpdate{}
	}
	q.entries = q.entries[:remaining]

	return batch
}

// Size возвращает текущую длину очереди
func (q *ProgressQueue) Size() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.entries)
}
