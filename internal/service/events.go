// events.go — публикация событий кейсов в Kafka.
//
// Событие case.submitted потребляет внешний сервис уведомлений
// (письмо лаборатории). Сбой публикации не влияет на результат
// отправки кейса: событие логируется и теряется.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Типы событий кейса.
const (
	EventCaseSubmitted = "case.submitted"
)

// CaseEvent — событие жизненного цикла кейса.
type CaseEvent struct {
	Type        string    `json:"type"`
	CaseID      string    `json:"case_id"`
	PatientName string    `json:"patient_name"`
	Brand       string    `json:"treatment_brand"`
	Category    string    `json:"category"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventPublisher — публикация событий кейсов.
type EventPublisher interface {
	Publish(ctx context.Context, evt CaseEvent) error
}

// messageWriter — подмножество *kafka.Writer, используемое издателем.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher — публикация событий в топик Kafka.
// Ключ сообщения — case_id: события одного кейса попадают в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher создаёт издателя событий.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: logger.With(slog.String("component", "event_publisher")),
	}
}

// Publish отправляет событие. Блокируется до подтверждения брокером.
func (p *KafkaPublisher) Publish(ctx context.Context, evt CaseEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.CaseID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
		Time: evt.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", evt.Type, err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("type", evt.Type),
		slog.String("case_id", evt.CaseID),
	)
	return nil
}

// Close закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher — издатель-заглушка, когда Kafka не настроена.
type NopPublisher struct {
	logger *slog.Logger
}

// NewNopPublisher создаёт издателя, который только логирует события.
func NewNopPublisher(logger *slog.Logger) *NopPublisher {
	return &NopPublisher{logger: logger.With(slog.String("component", "event_publisher"))}
}

// Publish логирует событие без отправки.
func (p *NopPublisher) Publish(_ context.Context, evt CaseEvent) error {
	p.logger.Debug("Kafka не настроена, событие не отправлено",
		slog.String("type", evt.Type),
		slog.String("case_id", evt.CaseID),
	)
	return nil
}
