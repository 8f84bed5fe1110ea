package routes

import (
	"net/http"
	"strconv"

	"github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetAuditRecordsHandler returns the most recent audit records, newest
// first.
func GetAuditRecordsHandler(c echo.Context) error {
	type getAuditsResponse struct {
		Message string               `json:"message"`
		Audits  []common.AuditRecord `json:"audits,omitempty"`
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, getAuditsResponse{
				Message: "Invalid limit",
			})
		}
		limit = parsed
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	audits, err := storage.GetAuditRecords(ctx, limit)
	if err != nil {
		logger.Error("Failed to load audit records", "err", err)
		return c.JSON(http.StatusInternalServerError, getAuditsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getAuditsResponse{
		Message: "OK",
		Audits:  audits,
	})
}

// GetLatestReportHandler serves the most recent batch report received
// from the worker.
func GetLatestReportHandler(c echo.Context) error {
	reports := c.(*middleware.AppContext).App.Reports

	report, receivedAt, ok := reports.Latest()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"message": "No report received yet",
		})
	}

	c.Response().Header().Set("X-Report-Received-At", receivedAt.Format("2006-01-02T15:04:05Z07:00"))
	return c.JSONBlob(http.StatusOK, report)
}
