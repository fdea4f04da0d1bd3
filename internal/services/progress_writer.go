package services

import (
	"context"
	"time"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/queue"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/pkg/logger"
)

// ProgressWriter фоновый процесс, который по таймеру забирает накопленные
// обновления прогресса из очереди и сбрасывает их в хранилище. Семантика
// best-effort: ошибка записи одной строки логируется и не останавливает цикл,
// ретраев нет. Каждая строка пишется отдельной транзакцией, поэтому падение
// посреди батча теряет только его незаписанный хвост.
type ProgressWriter struct {
	queue        *queue.ProgressQueue
	history      repository.WatchHistoryStore
	producer     kafka.Producer
	metrics      metrics.StreamingMetrics
	log          *logger.Logger
	interval     time.Duration
	batchSize    int
	storeTimeout time.Duration
}

// NewProgressWriter конструктор фонового писателя прогресса
func NewProgressWriter(
	q *queue.ProgressQueue,
	history repository.WatchHistoryStore,
	producer kafka.Producer,
	m metrics.StreamingMetrics,
	log *logger.Logger,
	interval time.Duration,
	batchSize int,
	storeTimeout time.Duration,
) *ProgressWriter {
	if producer == nil {
		producer = &kafka.NoOpProducer{}
	}
	return &ProgressWriter{
		queue:        q,
		history:      history,
		producer:     producer,
		metrics:      m,
		log:          log,
		interval:     interval,
		batchSize:    batchSize,
		storeTimeout: storeTimeout,
	}
}

// Run крутит цикл сброса до отмены контекста. Запускается в отдельной
// горутине из main; при остановке сервиса делает финальный сброс,
// чтобы не потерять уже принятые обновления.
func (w *ProgressWriter) Run(ctx context.Context) {
	w.log.Infow("Progress writer started",
		"interval", w.interval, "batch_size", w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Infow("Progress writer stopping, flushing remaining updates")
			w.drainAll()
			return
		case <-ticker.C:
			w.FlushOnce(ctx)
		}
	}
}

// FlushOnce забирает один батч из очереди и записывает его в хранилище.
// Возвращает число успешно записанных строк.
func (w *ProgressWriter) FlushOnce(ctx context.Context) int {
	if w.queue.Size() == 0 {
		return 0
	}
	batch := w.queue.DequeueBatch(w.batchSize)
	if len(batch) == 0 {
		return 0
	}
	w.metrics.SetProgressQueueSize(w.queue.Size())

	// Сырой батч уходит в Kafka до схлопывания по ключам: даунстрим-аналитике
	// нужны все точки, а не только последняя позиция.
	if err := w.producer.PublishProgressBatch(ctx, batch); err != nil {
		w.log.Errorw("Failed to publish raw progress batch", "error", err)
	}

	written := 0
	for _, update := range batch {
		if err := w.writeOne(ctx, update); err != nil {
			w.metrics.IncProgressWriteErrors()
			w.log.Errorw("Failed to write progress update, record dropped",
				"user_id", update.UserID, "video_key", update.VideoKey, "error", err)
			continue
		}
		written++
	}
	if written > 0 {
		w.metrics.IncProgressFlushed(written)
		w.log.Debugw("Progress batch flushed", "written", written, "batch", len(batch))
	}
	return written
}

func (w *ProgressWriter) writeOne(ctx context.Context, update domain.ProgressUpdate) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()
	return w.history.Upsert(writeCtx, update)
}

// drainAll сбрасывает очередь до конца при остановке сервиса.
func (w *ProgressWriter) drainAll() {
	// Родительский контекст уже отменен, поэтому финальный сброс идет
	// со своим коротким дедлайном.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for w.queue.Size() > 0 {
		if w.FlushOnce(ctx) == 0 && ctx.Err() != nil {
			w.log.Warnw("Final progress flush interrupted", "remaining", w.queue.Size())
			return
		}
	}
}
