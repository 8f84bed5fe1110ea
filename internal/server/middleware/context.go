package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/optiflow-ai/consolidation/pkg/store"
)

// App holds the shared dependencies every request handler needs.
type App struct {
	Storage store.Storage
	Queue   *amqp091.Channel
	Reports *ReportCache
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
