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

// GetEntitiesHandler lists consolidated entities of one type,
// optionally narrowed to an exact canonical name.
func GetEntitiesHandler(c echo.Context) error {
	type getEntitiesResponse struct {
		Message  string                       `json:"message"`
		Entities []*common.ConsolidatedEntity `json:"entities,omitempty"`
	}

	entityType := common.EntityType(c.QueryParam("type"))
	if !common.KnownType(entityType) {
		return c.JSON(http.StatusBadRequest, getEntitiesResponse{
			Message: "Unknown entity type",
		})
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	if name := c.QueryParam("name"); name != "" {
		entity, err := storage.GetEntityByName(ctx, entityType, name)
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getEntitiesResponse{
				Message: "Entity not found",
			})
		}
		if err != nil {
			logger.Error("Failed to load entity by name", "err", err)
			return c.JSON(http.StatusInternalServerError, getEntitiesResponse{
				Message: "Internal server error",
			})
		}
		return c.JSON(http.StatusOK, getEntitiesResponse{
			Message:  "OK",
			Entities: []*common.ConsolidatedEntity{entity},
		})
	}

	entities, err := storage.GetEntitiesByType(ctx, entityType)
	if err != nil {
		logger.Error("Failed to load entities", "type", entityType, "err", err)
		return c.JSON(http.StatusInternalServerError, getEntitiesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getEntitiesResponse{
		Message:  "OK",
		Entities: entities,
	})
}

// GetEntityHandler returns one consolidated entity by id.
func GetEntityHandler(c echo.Context) error {
	type getEntityResponse struct {
		Message string                     `json:"message"`
		Entity  *common.ConsolidatedEntity `json:"entity,omitempty"`
	}

	ctx := c.Request().Context()
	storage := c.(*middleware.AppContext).App.Storage

	entity, err := storage.GetEntity(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getEntityResponse{
			Message: "Entity not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load entity", "err", err)
		return c.JSON(http.StatusInternalServerError, getEntityResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getEntityResponse{
		Message: "OK",
		Entity:  entity,
	})
}
