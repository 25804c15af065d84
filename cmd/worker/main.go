package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lemonslut/that-news-thing-again/internal/app"
	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/migrate"
	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/internal/schedule"
	"github.com/lemonslut/that-news-thing-again/internal/timing"
	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	app.InitLogger(cfg.Log)
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	if err := migrate.Up(migrate.SourceURL(cfg.MigrationsPath), cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize", "err", err)
	}
	defer a.Close()

	// Init rabbitmq
	conn, err := queue.Dial(ctx, cfg.RabbitMQ.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := queue.Queues()
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	publisher := queue.NewPublisher(ch)

	processor := &queue.Processor{
		Stories: a.Stories,
		Trends:  a.Trends,
		Locker:  a.Locker,
		LockTTL: cfg.Lock.TTL,
		Events:  publisher,
	}

	if cfg.Schedule.Enabled {
		sched, err := schedule.New(cfg.Schedule, cfg.Trend.Location, publisher)
		if err != nil {
			logger.Fatal("Invalid schedule", "err", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	logger.Info("Listening for messages")

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						stop()
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				processingErr := processor.Process(ctx, qm.queueName, qm.msg.Body)

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(consumerCh, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", timing.Since(startTime))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
