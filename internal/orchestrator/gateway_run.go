package orchestrator

import (
	"context"

	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/telemetry"
)

// gatewayOrchestrator owns one gateway's chunk list for the duration of the
// run. Chunks execute strictly sequentially in index order, which bounds the
// outbound call rate per gateway; a chunk's failure never stops the next one.
type gatewayOrchestrator struct {
	gateway string
	chunks  []models.Chunk
	proc    *chunkProcessor
	tracker *tracker
}

func (o *gatewayOrchestrator) run(ctx context.Context) (models.GatewayResult, error) {
	result := models.GatewayResult{
		Gateway:              o.gateway,
		SuccessfulPaymentIDs: []string{},
		FailedChunks:         []models.FailedChunk{},
	}

	for _, chunk := range o.chunks {
		out, err := o.proc.process(ctx, o.gateway, chunk)
		if err != nil {
			return models.GatewayResult{}, err
		}

		result.SuccessfulPaymentIDs = append(result.SuccessfulPaymentIDs, out.successful...)
		result.FailedChunks = append(result.FailedChunks, out.failed...)

		telemetry.ChunksProcessed.Inc()
		if err := o.tracker.chunkDone(ctx, out.notifyFailed); err != nil {
			return models.GatewayResult{}, err
		}
	}
	return result, nil
}
