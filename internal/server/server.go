package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optiflow-ai/consolidation/internal/queue"
	mid "github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/store"
	"github.com/optiflow-ai/consolidation/pkg/store/base"
	"github.com/optiflow-ai/consolidation/pkg/store/memory"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rabbitmq/amqp091-go"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storage store.Storage
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
			logger.Fatal("Failed to parse database url", "err", err)
		}
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
		conn, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer conn.Close()
		storage = base.NewDBStorage(conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	reports := mid.NewReportCache()
	go consumeReports(ctx, que, reports)

	app := &mid.App{
		Storage: storage,
		Queue:   ch,
		Reports: reports,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("32M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// consumeReports binds an exclusive queue to the events exchange and
// caches the most recent batch report for GET /api/reports/latest.
func consumeReports(ctx context.Context, conn *amqp091.Connection, reports *mid.ReportCache) {
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("Failed to open report channel", "err", err)
		return
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(queue.ReportExchange, "topic", false, true, false, false, nil)
	if err != nil {
		logger.Error("Failed to declare report exchange", "err", err)
		return
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		logger.Error("Failed to declare report queue", "err", err)
		return
	}
	if err := ch.QueueBind(q.Name, "consolidation.batch.#", queue.ReportExchange, false, nil); err != nil {
		logger.Error("Failed to bind report queue", "err", err)
		return
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		logger.Error("Failed to consume reports", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			reports.Store(msg.Body)
		}
	}
}
