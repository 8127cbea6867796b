package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"payment-status-orchestrator/internal/gateway"
	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/substrate"
	"payment-status-orchestrator/internal/telemetry"
)

// chunkOutcome is the contained result of processing one chunk.
type chunkOutcome struct {
	successful []string
	failed     []models.FailedChunk
	// notifyFailed means the whole chunk was lost at the notify stage and no
	// status checks were attempted.
	notifyFailed bool
}

// chunkProcessor drives the two-stage notify-then-check protocol for one
// chunk. All downstream calls go through the durable executor, keyed so a
// redelivered run replays recorded outcomes.
type chunkProcessor struct {
	notifier gateway.NotifierClient
	checker  gateway.StatusCheckClient
	exec     *substrate.Executor
	runID    string
}

func (p *chunkProcessor) process(ctx context.Context, gw string, chunk models.Chunk) (chunkOutcome, error) {
	var out chunkOutcome

	notifyKey := fmt.Sprintf("%s:%s:chunk:%d:notify", p.runID, gw, chunk.Index)
	_, err := p.exec.Invoke(ctx, notifyKey, func(ctx context.Context) (string, error) {
		return "", p.notifier.Notify(ctx, gw, chunk.PaymentIDs)
	})
	if err != nil {
		var step *substrate.StepFailure
		if !errors.As(err, &step) {
			return out, err
		}
		// Notify failure takes the whole chunk down: no partial credit, no
		// status checks.
		telemetry.NotifyFailures.Inc()
		out.notifyFailed = true
		out.failed = append(out.failed, models.FailedChunk{
			ChunkIndex: chunk.Index,
			PaymentIDs: append([]string(nil), chunk.PaymentIDs...),
			Error:      step.Message,
			Stage:      models.StageLookupIndexNotify,
		})
		return out, nil
	}

	// Status checks run strictly in chunk order; one payment's failure never
	// stops the rest of the chunk.
	for _, pid := range chunk.PaymentIDs {
		checkKey := fmt.Sprintf("%s:%s:chunk:%d:check:%s", p.runID, gw, chunk.Index, pid)
		_, err := p.exec.Invoke(ctx, checkKey, func(ctx context.Context) (string, error) {
			return p.checker.CheckStatus(ctx, gw, pid)
		})
		if err != nil {
			var step *substrate.StepFailure
			if !errors.As(err, &step) {
				return out, err
			}
			telemetry.StatusCheckFailures.Inc()
			out.failed = append(out.failed, models.FailedChunk{
				ChunkIndex: chunk.Index,
				PaymentIDs: []string{pid},
				Error:      step.Message,
				Stage:      models.StageStatusCheck,
			})
			continue
		}
		out.successful = append(out.successful, pid)
	}
	return out, nil
}
