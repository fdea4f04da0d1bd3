package kafka

import (
	"context"
	"encoding/json" // Для маршалинга данных в JSON
	"errors"        // Для проверки ошибок
	"fmt"
	"strconv"
	"time" // Для таймаутов

	"github.com/segmentio/kafka-go" // Библиотека Kafka

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

// Константы топиков Kafka, используемых сервисом
const (
	TopicSubscriptionCreated   = "subscription_created"
	TopicSubscriptionExpired   = "subscription_expired"
	TopicSubscriptionCancelled = "subscription_cancelled"
	TopicWatchProgressRaw      = "watch_progress_raw"
)

// Producer определяет интерфейс для публикации сообщений в Kafka.
type Producer interface {
	// PublishSubscriptionEvent отправляет событие, связанное с подпиской.
	// Ключ сообщения (Key) используется Kafka для партиционирования:
	// все события одной подписки попадают в одну партицию.
	PublishSubscriptionEvent(ctx context.Context, topic string, sub *domain.UserSubscription) error

	// PublishProgressBatch отправляет пачку сырых обновлений прогресса
	// в аналитический топик до их склейки по ключу. Best-effort: сбой
	// публикации не мешает сбросу в хранилище.
	PublishProgressBatch(ctx context.Context, updates []domain.ProgressUpdate) error

	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer  // Объект для записи сообщений
	log    *logger.Logger // Ваш логгер
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	// Проверяем, что список брокеров не пуст
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	// RequiredAcks: kafka.RequireOne - ждать подтверждения только от лидера партиции
	// (баланс между скоростью и надежностью).
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...), // Подключаемся к списку брокеров
		Balancer:     &kafka.LeastBytes{},   // Балансировщик нагрузки
		RequiredAcks: kafka.RequireOne,      // Уровень подтверждения записи
		BatchSize:    100,                   // Размер пакета сообщений
		BatchTimeout: 10 * time.Millisecond, // Таймаут для накопления пакета
		WriteTimeout: 10 * time.Second,      // Таймаут на операцию записи
		ReadTimeout:  10 * time.Second,      // Таймаут на операцию чтения
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishSubscriptionEvent преобразует подписку в JSON и отправляет в указанный топик Kafka.
func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, topic string, sub *domain.UserSubscription) error {
	messageKey := []byte(sub.ID.String())

	messageValue, err := json.Marshal(sub)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription data to JSON for Kafka", "error", err, "subscriptionID", sub.ID, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   messageKey,
		Value: messageValue,
		Time:  time.Now(),
	}

	// Используем контекст с таймаутом, чтобы избежать зависания.
	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = k.writer.WriteMessages(writeCtx, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "subscriptionID", sub.ID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "subscriptionID", sub.ID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Successfully published message to Kafka", "topic", topic, "subscriptionID", sub.ID)
	return nil
}

// PublishProgressBatch отправляет пачку сырых обновлений прогресса в Kafka.
// Ключ сообщения — UserID, чтобы события одного пользователя шли по порядку.
func (k *kafkaProducer) PublishProgressBatch(ctx context.Context, updates []domain.ProgressUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(updates))
	for _, update := range updates {
		value, err := json.Marshal(update)
		if err != nil {
			k.log.Errorw("Failed to marshal progress update for Kafka", "error", err, "userID", update.UserID)
			continue
		}
		messages = append(messages, kafka.Message{
			Topic: TopicWatchProgressRaw,
			Key:   []byte(strconv.FormatInt(update.UserID, 10)),
			Value: value,
			Time:  update.Timestamp,
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, messages...); err != nil {
		k.log.Errorw("Failed to write progress batch to Kafka", "error", err, "count", len(messages))
		return fmt.Errorf("kafka: failed to write progress batch: %w", err)
	}

	k.log.Debugw("Successfully published progress batch to Kafka", "count", len(messages))
	return nil
}

// Close закрывает соединение Kafka Writer.
// Этот метод важно вызвать при завершении работы приложения (graceful shutdown).
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	err := k.writer.Close()
	if err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

// NoOpProducer заглушка продюсера: используется, когда Kafka недоступна,
// чтобы публикация событий не была критична для основного флоу.
type NoOpProducer struct{}

// PublishSubscriptionEvent ничего не делает
func (NoOpProducer) PublishSubscriptionEvent(ctx context.Context, topic string, sub *domain.UserSubscription) error {
	return nil
}

// PublishProgressBatch ничего не делает
func (NoOpProducer) PublishProgressBatch(ctx context.Context, updates []domain.ProgressUpdate) error {
	return nil
}

// Close ничего не делает
func (NoOpProducer) Close() error { return nil }
