package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// publishTimeout ограничивает время одной публикации.
const publishTimeout = 10 * time.Second

// MintEventPayload is emitted after a scene mint result is recorded.
type MintEventPayload struct {
	SceneID     uuid.UUID `json:"scene_id"`
	CharacterID uuid.UUID `json:"character_id"`
	UserID      uuid.UUID `json:"user_id"`
	TxHash      string    `json:"tx_hash"`
	MintedAt    time.Time `json:"minted_at"`
}

// PregenTaskPayload hints a background worker at the scene the user is most
// likely to request next, so it can be generated ahead of time.
type PregenTaskPayload struct {
	UserID      uuid.UUID `json:"user_id"`
	CharacterID uuid.UUID `json:"character_id"`
	Chapter     int       `json:"chapter"`
	SceneNumber int       `json:"scene_number"`
}

// EventPublisher publishes engine events to the message broker.
type EventPublisher interface {
	PublishMintEvent(ctx context.Context, payload MintEventPayload) error
	PublishPregenTask(ctx context.Context, payload PregenTaskPayload) error
}

// rabbitMQPublisher реализует EventPublisher поверх RabbitMQ.
// Каждая очередь публикуется через default exchange по имени очереди.
type rabbitMQPublisher struct {
	channel     *amqp.Channel
	mintQueue   string
	pregenQueue string
	logger      *zap.Logger
}

var _ EventPublisher = (*rabbitMQPublisher)(nil)

// NewRabbitMQPublisher открывает канал и объявляет обе очереди.
// Параметры очередей должны совпадать с консьюмерами.
func NewRabbitMQPublisher(conn *amqp.Connection, mintQueue, pregenQueue string, logger *zap.Logger) (EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: не удалось открыть канал: %w", err)
	}
	for _, queueName := range []string{mintQueue, pregenQueue} {
		_, err = ch.QueueDeclare(
			queueName, // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("event publisher: не удалось объявить очередь '%s': %w", queueName, err)
		}
	}
	logger.Info("Event publisher initialized",
		zap.String("mint_queue", mintQueue),
		zap.String("pregen_queue", pregenQueue))
	return &rabbitMQPublisher{
		channel:     ch,
		mintQueue:   mintQueue,
		pregenQueue: pregenQueue,
		logger:      logger.Named("RabbitMQPublisher"),
	}, nil
}

func (p *rabbitMQPublisher) PublishMintEvent(ctx context.Context, payload MintEventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации mint-события для сцены %s: %w", payload.SceneID, err)
	}
	if err := p.publishMessage(ctx, p.mintQueue, body); err != nil {
		return fmt.Errorf("ошибка публикации mint-события для сцены %s: %w", payload.SceneID, err)
	}
	return nil
}

func (p *rabbitMQPublisher) PublishPregenTask(ctx context.Context, payload PregenTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации pregen-задачи для пользователя %s: %w", payload.UserID, err)
	}
	if err := p.publishMessage(ctx, p.pregenQueue, body); err != nil {
		return fmt.Errorf("ошибка публикации pregen-задачи для пользователя %s: %w", payload.UserID, err)
	}
	return nil
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, queueName string, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	// Попытка публикации с retry до 3 раз
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",        // exchange (используем default)
			queueName, // routing key (имя очереди)
			false,     // mandatory
			false,     // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "novel-engine",
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed",
			zap.String("queue", queueName),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// noopPublisher используется, когда брокер не сконфигурирован: события
// только логируются, прогресс пользователя от брокера не зависит.
type noopPublisher struct {
	logger *zap.Logger
}

var _ EventPublisher = (*noopPublisher)(nil)

// NewNoopPublisher returns a publisher that drops events with a debug log.
func NewNoopPublisher(logger *zap.Logger) EventPublisher {
	return &noopPublisher{logger: logger.Named("NoopPublisher")}
}

func (p *noopPublisher) PublishMintEvent(_ context.Context, payload MintEventPayload) error {
	p.logger.Debug("Mint event dropped (no broker configured)",
		zap.String("scene_id", payload.SceneID.String()))
	return nil
}

func (p *noopPublisher) PublishPregenTask(_ context.Context, payload PregenTaskPayload) error {
	p.logger.Debug("Pregen task dropped (no broker configured)",
		zap.String("user_id", payload.UserID.String()))
	return nil
}
