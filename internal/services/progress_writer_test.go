package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/queue"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/pkg/logger"
)

func newTestProgressWriter(t *testing.T, batchSize int) (*ProgressWriter, *queue.ProgressQueue, *repository.InMemoryWatchHistoryStore) {
	t.Helper()
	log := logger.New(logger.DEBUG)
	q := queue.NewProgressQueue()
	store := repository.NewInMemoryWatchHistoryStore(log)
	w := NewProgressWriter(q, store, &kafka.NoOpProducer{}, metrics.NoOpMetrics(), log,
		time.Second, batchSize, time.Second)
	return w, q, store
}

func TestProgressWriter_LastWriteInBatchWins(t *testing.T) {
	w, q, store := newTestProgressWriter(t, 50)
	ctx := context.Background()

	q.Enqueue(makeProgress(1, "inception", 100))
	q.Enqueue(makeProgress(1, "inception", 250))
	q.Enqueue(makeProgress(1, "inception", 180))

	written := w.FlushOnce(ctx)
	assert.Equal(t, 3, written)

	record, err := store.Get(ctx, 1, "inception")
	require.NoError(t, err)
	// При нескольких обновлениях одного ключа остается последнее из батча
	assert.Equal(t, int64(180), record.CurrentPosition)
	assert.Equal(t, 1, store.Count())
}

func TestProgressWriter_WriteErrorSkipsRecord(t *testing.T) {
	w, q, store := newTestProgressWriter(t, 50)
	ctx := context.Background()

	store.FailOn(2, "broken-video", errors.New("connection reset"))
	q.Enqueue(makeProgress(1, "inception", 10))
	q.Enqueue(makeProgress(2, "broken-video", 20))
	q.Enqueue(makeProgress(3, "matrix", 30))

	written := w.FlushOnce(ctx)
	assert.Equal(t, 2, written)

	_, err := store.Get(ctx, 2, "broken-video")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	record, err := store.Get(ctx, 3, "matrix")
	require.NoError(t, err)
	assert.Equal(t, int64(30), record.CurrentPosition)
	// Очередь пуста: упавшая запись потеряна, ретраев нет
	assert.Equal(t, 0, q.Size())
}

func TestProgressWriter_BatchSizeLeavesRemainder(t *testing.T) {
	w, q, _ := newTestProgressWriter(t, 2)
	ctx := context.Background()

	q.Enqueue(makeProgress(1, "a", 1))
	q.Enqueue(makeProgress(1, "b", 2))
	q.Enqueue(makeProgress(1, "c", 3))

	written := w.FlushOnce(ctx)
	assert.Equal(t, 2, written)
	assert.Equal(t, 1, q.Size())

	written = w.FlushOnce(ctx)
	assert.Equal(t, 1, written)
	assert.Equal(t, 0, q.Size())
}

func TestProgressWriter_RunFlushesOnShutdown(t *testing.T) {
	w, q, store := newTestProgressWriter(t, 50)

	q.Enqueue(makeProgress(5, "tenet", 777))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("progress writer did not stop")
	}

	record, err := store.Get(context.Background(), 5, "tenet")
	require.NoError(t, err)
	assert.Equal(t, int64(777), record.CurrentPosition)
}

func makeProgress(userID int64, videoKey string, position int64) domain.ProgressUpdate {
	return domain.ProgressUpdate{
		UserID:          userID,
		VideoKey:        videoKey,
		CurrentPosition: position,
		Timestamp:       time.Now().UTC(),
	}
}
