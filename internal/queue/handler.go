package queue

import (
	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a message goes through the retry queue before it
// is dead-lettered.
const MaxRetries = 10

// HandleProcessingError routes a failed delivery to the retry queue, or to
// the dead-letter queue once it is out of retries or the failure is
// permanent. The original delivery is acked once the copy is published.
func HandleProcessingError(ch Channel, msg amqp091.Delivery, queueName string, procErr error) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries || Permanent(procErr) {
		dlqName := queueName + "_dlq"
		log.Info("Sending message to DLQ", "dlq", dlqName, "retries", retries, "err", procErr)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			log.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		log.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
