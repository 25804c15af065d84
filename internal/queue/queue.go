package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
)

const (
	ClusterArticleQueue = "cluster_article_queue"
	ClusterSweepQueue   = "cluster_sweep_queue"
	CaptureTrendsQueue  = "capture_trends_queue"
	CleanupTrendsQueue  = "cleanup_trends_queue"

	// EventsExchange carries notifications for downstream consumers.
	EventsExchange = "pubsub"

	retryTTL = int32(10000)
)

// Queues lists every work queue the worker consumes.
func Queues() []string {
	return []string{ClusterArticleQueue, ClusterSweepQueue, CaptureTrendsQueue, CleanupTrendsQueue}
}

// Channel is the subset of *amqp091.Channel used for declaring and publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

var _ Channel = (*amqp091.Channel)(nil)

// Dial connects to RabbitMQ, retrying with backoff while the broker starts.
func Dial(ctx context.Context, url string) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	err := util.RetryErrWithBackoff(ctx, 5, time.Second, func(ctx context.Context) error {
		c, err := amqp091.Dial(url)
		if err != nil {
			logger.Warn("[Queue] RabbitMQ not reachable yet", "err", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the events exchange and, for each name, the work
// queue, its dead-letter queue and a retry queue that dead-letters back into
// the work queue after retryTTL milliseconds.
func SetupQueues(ch Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("queue declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("queue declare %s: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

func PublishTopic(ch Channel, topic string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		EventsExchange,
		topic,
		false,
		false,
		publishing,
	)
}
