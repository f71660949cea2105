package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OfflineQueue publishes undeliverable chat payloads to the notification
// service's intake queue. The relay never retries a dropped message itself;
// whatever persistence or push notification happens downstream starts here.
type OfflineQueue struct {
	amqpURI   string
	queueName string
	logger    *slog.Logger

	connMtx sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	isClosed    bool
	closeMtx    sync.Mutex
	reconnectCh chan struct{}
}

// offlineNotice is the queue-side record of a message that found no
// connected receiver. Payload is the original chat payload, untouched.
type offlineNotice struct {
	ReceiverID string          `json:"receiverId"`
	Payload    json.RawMessage `json:"payload"`
	DroppedAt  time.Time       `json:"droppedAt"`
}

func CreateOfflineQueue(amqpURI, queueName string, logger *slog.Logger) (*OfflineQueue, error) {
	q := &OfflineQueue{
		amqpURI:     amqpURI,
		queueName:   queueName,
		logger:      logger.With("component", "offline_queue"),
		reconnectCh: make(chan struct{}, 1),
	}

	if err := q.connect(); err != nil {
		return nil, err
	}

	go q.handleReconnect()

	return q, nil
}

func (q *OfflineQueue) connect() error {
	q.connMtx.Lock()
	defer q.connMtx.Unlock()

	var err error
	q.conn, err = amqp.Dial(q.amqpURI)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	q.channel, err = q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := q.channel.Confirm(false); err != nil {
		return fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}

	_, err = q.channel.QueueDeclare(q.queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	go func() {
		closeErr := <-q.conn.NotifyClose(make(chan *amqp.Error))
		q.logger.Error("rabbitmq connection closed", "error", closeErr)
		q.triggerReconnect()
	}()

	q.logger.Info("offline queue connected", "queue", q.queueName)
	return nil
}

func (q *OfflineQueue) handleReconnect() {
	for range q.reconnectCh {
		q.closeMtx.Lock()
		if q.isClosed {
			q.closeMtx.Unlock()
			return
		}
		q.closeMtx.Unlock()

		q.logger.Info("attempting to reconnect to RabbitMQ")
		backoff := 1 * time.Second
		for {
			err := q.connect()
			if err == nil {
				q.logger.Info("reconnected to RabbitMQ")
				break
			}
			q.logger.Error("failed to reconnect to RabbitMQ", "error", err, "after", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
}

func (q *OfflineQueue) triggerReconnect() {
	select {
	case q.reconnectCh <- struct{}{}:
	default:
	}
}

// NotifyOffline publishes one undeliverable payload with publisher confirms.
func (q *OfflineQueue) NotifyOffline(ctx context.Context, receiverID string, payload []byte) error {
	body, err := json.Marshal(offlineNotice{
		ReceiverID: receiverID,
		Payload:    payload,
		DroppedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode offline notice: %w", err)
	}

	q.connMtx.Lock()
	defer q.connMtx.Unlock()

	if q.channel == nil {
		return errors.New("channel is not initialized, possibly disconnected")
	}

	confirms := q.channel.NotifyPublish(make(chan amqp.Confirmation, 1))

	err = q.channel.PublishWithContext(ctx,
		"",
		q.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish offline notice: %w", err)
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return errors.New("offline notice nacked by server")
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return errors.New("offline notice publish timed out")
	}

	q.logger.Debug("published offline notice", "receiverID", receiverID)
	return nil
}

func (q *OfflineQueue) Close() error {
	q.closeMtx.Lock()
	q.isClosed = true
	q.closeMtx.Unlock()

	close(q.reconnectCh)

	q.connMtx.Lock()
	defer q.connMtx.Unlock()

	var finalErr error
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			finalErr = fmt.Errorf("channel close error: %w", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			if finalErr != nil {
				finalErr = fmt.Errorf("connection close error: %w (previous error: %v)", err, finalErr)
			} else {
				finalErr = fmt.Errorf("connection close error: %w", err)
			}
		}
	}

	if finalErr == nil {
		q.logger.Info("offline queue closed gracefully")
	}
	return finalErr
}
