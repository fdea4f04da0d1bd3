package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/streamflix/backend/pkg/logger"
)

// StreamingMetrics интерфейс для метрик ядра сервиса
type StreamingMetrics interface {
	SetProgressQueueSize(size int)
	IncProgressEnqueued()
	IncProgressFlushed(count int)
	IncProgressWriteErrors()
	IncWebhookEvent(kind string, outcome string)
	IncSubscriptionsExpired(count int)
	IncSweepErrors()
}

type streamingMetrics struct {
	log                  *logger.Logger
	progressQueueSize    prometheus.Gauge
	progressEnqueued     prometheus.Counter
	progressFlushed      prometheus.Counter
	progressWriteErrors  prometheus.Counter
	webhookEvents        *prometheus.CounterVec
	subscriptionsExpired prometheus.Counter
	sweepErrors          prometheus.Counter
}

// NewStreamingMetrics создает новые метрики ядра
func NewStreamingMetrics(registry *prometheus.Registry, log *logger.Logger) StreamingMetrics {
	progressQueueSize := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_queue_size",
			Help: "Current number of pending watch progress updates",
		},
	)

	progressEnqueued := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "progress_updates_enqueued_total",
			Help: "The total number of enqueued watch progress updates",
		},
	)

	progressFlushed := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "progress_updates_flushed_total",
			Help: "The total number of watch progress updates flushed to storage",
		},
	)

	progressWriteErrors := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "progress_write_errors_total",
			Help: "The total number of failed watch history writes",
		},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "The total number of processed webhook events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	subscriptionsExpired := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "The total number of subscriptions demoted by the expiration sweep",
		},
	)

	sweepErrors := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_sweep_errors_total",
			Help: "The total number of failed sweep row writes",
		},
	)

	return &streamingMetrics{
		log:                  log,
		progressQueueSize:    progressQueueSize,
		progressEnqueued:     progressEnqueued,
		progressFlushed:      progressFlushed,
		progressWriteErrors:  progressWriteErrors,
		webhookEvents:        webhookEvents,
		subscriptionsExpired: subscriptionsExpired,
		sweepErrors:          sweepErrors,
	}
}

// SetProgressQueueSize выставляет текущую глубину очереди прогресса
func (m *streamingMetrics) SetProgressQueueSize(size int) {
	m.progressQueueSize.Set(float64(size))
}

// IncProgressEnqueued увеличивает счетчик поставленных в очередь обновлений
func (m *streamingMetrics) IncProgressEnqueued() {
	m.progressEnqueued.Inc()
}

// IncProgressFlushed увеличивает счетчик сброшенных в хранилище обновлений
func (m *streamingMetrics) IncProgressFlushed(count int) {
	m.progressFlushed.Add(float64(count))
}

// IncProgressWriteErrors увеличивает счетчик ошибок записи истории
func (m *streamingMetrics) IncProgressWriteErrors() {
	m.progressWriteErrors.Inc()
}

// IncWebhookEvent увеличивает счетчик обработанных вебхук-событий
func (m *streamingMetrics) IncWebhookEvent(kind string, outcome string) {
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// IncSubscriptionsExpired увеличивает счетчик истекших подписок
func (m *streamingMetrics) IncSubscriptionsExpired(count int) {
	m.subscriptionsExpired.Add(float64(count))
}

// IncSweepErrors увеличивает счетчик ошибок фоновой задачи истечения
func (m *streamingMetrics) IncSweepErrors() {
	m.sweepErrors.Inc()
}

// NoOpMetrics возвращает метрики-заглушку (для тестов)
func NoOpMetrics() StreamingMetrics {
	return NewStreamingMetrics(prometheus.NewRegistry(), nil)
}
