package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/consolidate"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

// ConsolidateBatchMsg is one consolidation job: extracted records from
// one or more sources to fold into the knowledge base.
type ConsolidateBatchMsg struct {
	Message       string             `json:"message,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Records       []common.RawEntity `json:"records"`
}

// RollbackMsg requests that one consolidation transaction be undone.
type RollbackMsg struct {
	AuditID string `json:"audit_id"`
	Reason  string `json:"reason,omitempty"`
}

// ProcessConsolidateMessage runs one batch and publishes its report on
// the events exchange.
func ProcessConsolidateMessage(
	ctx context.Context,
	consolidator *consolidate.Consolidator,
	ch *amqp091.Channel,
	msgBody string,
) error {
	var data ConsolidateBatchMsg
	if err := json.Unmarshal([]byte(msgBody), &data); err != nil {
		return fmt.Errorf("invalid consolidate message: %w", err)
	}
	if len(data.Records) == 0 {
		logger.Warn("[Queue] Empty consolidate batch, nothing to do",
			"correlationId", data.CorrelationID)
		return nil
	}

	result, err := consolidator.ConsolidateBatch(ctx, consolidate.Batch{
		CorrelationID: data.CorrelationID,
		Records:       data.Records,
	})
	if err != nil {
		return err
	}

	report, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal batch result: %w", err)
	}
	if err := PublishTopic(ch, "consolidation.batch.finished", report); err != nil {
		// the batch itself committed; a lost report is not worth a retry
		logger.Error("[Queue] Failed to publish batch report",
			"correlationId", result.CorrelationID, "err", err)
	}
	return nil
}

// ProcessRollbackMessage undoes one audited transaction. An audit id
// with nothing left to undo is acked, not retried.
func ProcessRollbackMessage(
	ctx context.Context,
	consolidator *consolidate.Consolidator,
	ch *amqp091.Channel,
	msgBody string,
) error {
	var data RollbackMsg
	if err := json.Unmarshal([]byte(msgBody), &data); err != nil {
		return fmt.Errorf("invalid rollback message: %w", err)
	}
	if data.AuditID == "" {
		return errors.New("rollback message missing audit_id")
	}

	restored, err := consolidator.Rollback(ctx, data.AuditID, data.Reason)
	if errors.Is(err, store.ErrNothingToUndo) {
		return nil
	}
	if err != nil {
		return err
	}

	event, err := json.Marshal(map[string]any{
		"audit_id":          data.AuditID,
		"entities_restored": restored,
		"reason":            data.Reason,
	})
	if err != nil {
		return err
	}
	if err := PublishTopic(ch, "consolidation.rollback.finished", event); err != nil {
		logger.Error("[Queue] Failed to publish rollback report",
			"auditId", data.AuditID, "err", err)
	}
	return nil
}
