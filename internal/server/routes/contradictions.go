package routes

import (
	"errors"
	"net/http"

	"github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetEntityContradictionsHandler lists the open contradictions
// recorded against one entity.
func GetEntityContradictionsHandler(c echo.Context) error {
	type getContradictionsResponse struct {
		Message        string                 `json:"message"`
		Contradictions []common.Contradiction `json:"contradictions,omitempty"`
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	contradictions, err := storage.OpenContradictions(ctx, c.Param("id"))
	if err != nil {
		logger.Error("Failed to load contradictions", "err", err)
		return c.JSON(http.StatusInternalServerError, getContradictionsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getContradictionsResponse{
		Message:        "OK",
		Contradictions: contradictions,
	})
}

// ResolveContradictionHandler marks a contradiction resolved. The
// record stays; only its status changes.
func ResolveContradictionHandler(c echo.Context) error {
	type resolveResponse struct {
		Message string `json:"message"`
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	err := storage.ResolveContradiction(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, resolveResponse{
			Message: "Contradiction not found",
		})
	}
	if err != nil {
		logger.Error("Failed to resolve contradiction", "err", err)
		return c.JSON(http.StatusInternalServerError, resolveResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, resolveResponse{
		Message: "Resolved",
	})
}
