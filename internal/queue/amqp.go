package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue maps each topic to a durable RabbitMQ queue on the default exchange.
type AMQPQueue struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	mu        sync.Mutex
	logger    *zap.Logger
	consumers []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{conn: conn, ch: ch, logger: logger, ctx: ctx, cancel: cancel}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	err := q.ch.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic one message at a time with manual acks. A failed
// message is requeued once and dropped on its second failure.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	tag := "newsletter-" + topic
	msgs, err := q.ch.Consume(
		topic,
		tag,
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}
	q.consumers = append(q.consumers, tag)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			q.handleDelivery(topic, handler, d)
		}
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(topic string, handler Handler, d amqp.Delivery) {
	err := handler(q.ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			q.logger.Warn("ack failed", zap.String("topic", topic), zap.Error(ackErr))
		}
		return
	}

	requeue := !d.Redelivered
	q.logger.Warn("message handler failed",
		zap.String("topic", topic), zap.Bool("requeue", requeue), zap.Error(err))
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		q.logger.Warn("nack failed", zap.String("topic", topic), zap.Error(nackErr))
	}
}

// Close cancels the in-flight handler, stops consumers so the handler can
// still nack, then closes the channel and connection.
func (q *AMQPQueue) Close() error {
	q.cancel()

	q.mu.Lock()
	for _, tag := range q.consumers {
		if err := q.ch.Cancel(tag, false); err != nil {
			q.logger.Warn("cancelling consumer", zap.String("consumer", tag), zap.Error(err))
		}
	}
	q.mu.Unlock()
	q.wg.Wait()

	chErr := q.ch.Close()
	if err := q.conn.Close(); err != nil {
		return err
	}
	return chErr
}

var _ Queue = (*AMQPQueue)(nil)
