package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optiflow-ai/consolidation/internal/queue"
	"github.com/optiflow-ai/consolidation/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/optiflow-ai/consolidation/pkg/ai"
	oai "github.com/optiflow-ai/consolidation/pkg/ai/ollama"
	gai "github.com/optiflow-ai/consolidation/pkg/ai/openai"
	"github.com/optiflow-ai/consolidation/pkg/consolidate"
	"github.com/optiflow-ai/consolidation/pkg/leaselock"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/logger/console"
	"github.com/optiflow-ai/consolidation/pkg/store"
	"github.com/optiflow-ai/consolidation/pkg/store/base"
	"github.com/optiflow-ai/consolidation/pkg/store/memory"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// embedding client for semantic similarity; unset AI_ADAPTER runs
	// the pipeline name-only
	var semanticClient ai.SemanticClient
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := oai.NewEmbeddingClient(oai.NewEmbeddingClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			BaseURL:        util.GetEnv("AI_EMBED_URL"),
			ApiKey:         util.GetEnv("AI_EMBED_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		semanticClient = client
	case "openai":
		semanticClient = gai.NewEmbeddingClient(gai.NewEmbeddingClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			BaseURL:        util.GetEnv("AI_EMBED_URL"),
			ApiKey:         util.GetEnv("AI_EMBED_KEY"),
		})
	default:
		logger.Warn("No AI adapter configured, similarity runs name-only")
	}

	// storage; DRY_RUN keeps everything in memory
	var storage store.Storage
	var lock *leaselock.Client
	if util.GetEnvBool("DRY_RUN", false) {
		logger.Warn("DRY_RUN enabled, using in-memory storage")
		storage = memory.NewStore()
	} else {
		databaseURL := util.GetEnv("DATABASE_URL")
		migrationsPath := util.GetEnvString("MIGRATIONS_PATH", "migrations")
		if err := base.RunMigrations(databaseURL, migrationsPath); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}

		poolCfg, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			logger.Fatal("Unable to parse database url", "err", err)
		}
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
		pgConn, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()
		storage = base.NewDBStorage(pgConn)
		lock = leaselock.New(pgConn)
	}

	cfg := consolidate.ConfigFromEnv()
	consolidator, err := consolidate.NewConsolidator(consolidate.NewConsolidatorParams{
		Config:         &cfg,
		Storage:        storage,
		SemanticClient: semanticClient,
	})
	if err != nil {
		logger.Fatal("Could not create consolidator", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	logger.Info("Listening for messages")

	// Single consumer channel with prefetch=1 so only one batch is
	// consolidated at a time across all queues.
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

	for _, queueName := range queue.Queues {
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
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
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

				var processingErr error
				process := func(pctx context.Context) error {
					switch qm.queueName {
					case queue.ConsolidateQueue:
						return queue.ProcessConsolidateMessage(pctx, consolidator, ch, string(qm.msg.Body))
					case queue.RollbackQueue:
						return queue.ProcessRollbackMessage(pctx, consolidator, ch, string(qm.msg.Body))
					}
					return nil
				}
				if lock != nil {
					// one worker consolidates at a time; versioned
					// merges stay correct either way, the lease avoids
					// conflict retries
					processingErr = lock.WithLease(ctx, leaselock.BatchLockKey, leaselock.Options{
						TTL:  10 * time.Minute,
						Wait: true,
					}, process)
				} else {
					processingErr = process(ctx)
				}

				// On error send to retry or dead-letter, otherwise ack
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				if semanticClient != nil {
					metrics := semanticClient.GetMetrics()
					aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
					logger.Info(
						"AI Metrics",
						"requests", metrics.Requests,
						"input_tokens", metrics.InputTokens,
						"total_tokens", metrics.TotalTokens,
						"duration", aiDuration.Round(time.Second).String(),
					)
					semanticClient.ResetMetrics()
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Millisecond).String())
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// After 10 attempts the message goes to the dead-letter queue
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
