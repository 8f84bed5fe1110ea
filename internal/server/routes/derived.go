package routes

import (
	"net/http"

	"github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetRelationshipsHandler(c echo.Context) error {
	type getRelationshipsResponse struct {
		Message       string                `json:"message"`
		Relationships []common.Relationship `json:"relationships,omitempty"`
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	relationships, err := storage.GetRelationships(ctx)
	if err != nil {
		logger.Error("Failed to load relationships", "err", err)
		return c.JSON(http.StatusInternalServerError, getRelationshipsResponse{
			Message: "Internal server error",
		})
	}

	// validated=true narrows to corroborated relationships only
	if c.QueryParam("validated") == "true" {
		filtered := relationships[:0]
		for _, r := range relationships {
			if r.Validated {
				filtered = append(filtered, r)
			}
		}
		relationships = filtered
	}

	return c.JSON(http.StatusOK, getRelationshipsResponse{
		Message:       "OK",
		Relationships: relationships,
	})
}

func GetPatternsHandler(c echo.Context) error {
	type getPatternsResponse struct {
		Message  string           `json:"message"`
		Patterns []common.Pattern `json:"patterns,omitempty"`
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	patterns, err := storage.GetPatterns(ctx)
	if err != nil {
		logger.Error("Failed to load patterns", "err", err)
		return c.JSON(http.StatusInternalServerError, getPatternsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getPatternsResponse{
		Message:  "OK",
		Patterns: patterns,
	})
}
