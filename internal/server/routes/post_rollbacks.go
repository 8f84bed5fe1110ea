package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/optiflow-ai/consolidation/internal/queue"
	"github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/store"

	"github.com/labstack/echo/v4"
)

// SubmitRollbackHandler rolls back one audited transaction and returns
// the restored entities. Rolling back an already-undone audit id is a
// no-op, not an error.
func SubmitRollbackHandler(c echo.Context) error {
	type submitRollbackBody struct {
		AuditID string `json:"audit_id" validate:"required"`
		Reason  string `json:"reason"`
	}

	type submitRollbackResponse struct {
		Message          string   `json:"message"`
		AuditID          string   `json:"audit_id,omitempty"`
		EntitiesRestored []string `json:"entities_restored,omitempty"`
	}

	data := new(submitRollbackBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitRollbackResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitRollbackResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	restored, err := app.Storage.Rollback(ctx, data.AuditID, data.Reason)
	if errors.Is(err, store.ErrNothingToUndo) {
		return c.JSON(http.StatusOK, submitRollbackResponse{
			Message: "Nothing to undo",
			AuditID: data.AuditID,
		})
	}
	if err != nil {
		logger.Error("Rollback failed", "auditId", data.AuditID, "err", err)
		return c.JSON(http.StatusInternalServerError, submitRollbackResponse{
			Message: "Internal server error",
		})
	}

	// the rollback already committed; a lost event is not worth a retry
	if app.Queue != nil {
		event, err := json.Marshal(map[string]any{
			"audit_id":          data.AuditID,
			"entities_restored": restored,
			"reason":            data.Reason,
		})
		if err == nil {
			err = queue.PublishTopic(app.Queue, "consolidation.rollback.finished", event)
		}
		if err != nil {
			logger.Error("Failed to publish rollback report", "auditId", data.AuditID, "err", err)
		}
	}

	return c.JSON(http.StatusOK, submitRollbackResponse{
		Message:          "Rollback complete",
		AuditID:          data.AuditID,
		EntitiesRestored: restored,
	})
}
