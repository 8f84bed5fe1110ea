package server

import (
	"github.com/optiflow-ai/consolidation/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Batch ingestion and rollback
	apiRoutes.POST("/batches", routes.SubmitBatchHandler)
	apiRoutes.POST("/rollbacks", routes.SubmitRollbackHandler)

	// Consolidated entities
	apiRoutes.GET("/entities", routes.GetEntitiesHandler)
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.GET("/entities/:id/contradictions", routes.GetEntityContradictionsHandler)
	apiRoutes.POST("/contradictions/:id/resolve", routes.ResolveContradictionHandler)

	// Derived records
	apiRoutes.GET("/relationships", routes.GetRelationshipsHandler)
	apiRoutes.GET("/patterns", routes.GetPatternsHandler)

	// Audit trail and reporting
	apiRoutes.GET("/audits", routes.GetAuditRecordsHandler)
	apiRoutes.GET("/reports/latest", routes.GetLatestReportHandler)
}
