package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"payment-status-orchestrator/internal/models"
)

// ProgressSink receives committed progress snapshots and audit events for a
// run. The store-backed sink persists them; queries read the persisted copy,
// so readers never touch the engine's in-flight state.
type ProgressSink interface {
	PublishProgress(ctx context.Context, runID string, p models.Progress) error
	RecordEvent(ctx context.Context, runID, event, detail string) error
}

// tracker owns a run's progress counters. Gateway goroutines report through
// it; each mutation commits one absolute snapshot under the lock, so
// snapshots reach the sink in commit order and a redelivered run overwrites
// rather than double-counts.
type tracker struct {
	sink  ProgressSink
	runID string

	mu       sync.Mutex
	progress models.Progress
}

func newTracker(sink ProgressSink, runID string, totalPayments int) *tracker {
	return &tracker{
		sink:  sink,
		runID: runID,
		progress: models.Progress{
			TotalPayments: totalPayments,
		},
	}
}

func (t *tracker) setPhase(ctx context.Context, phase string) error {
	return t.commit(ctx, func(p *models.Progress) {
		p.CurrentPhase = phase
	})
}

func (t *tracker) setGatewaysIdentified(ctx context.Context, n int) error {
	return t.commit(ctx, func(p *models.Progress) {
		p.GatewaysIdentified = n
	})
}

func (t *tracker) setChunksTotal(ctx context.Context, n int) error {
	return t.commit(ctx, func(p *models.Progress) {
		p.ChunksTotal = n
	})
}

// chunkDone commits one chunk outcome. failed means the whole chunk failed at
// the notify stage; per-payment status-check failures still count the chunk
// as completed work.
func (t *tracker) chunkDone(ctx context.Context, failed bool) error {
	return t.commit(ctx, func(p *models.Progress) {
		p.ChunksCompleted++
		if failed {
			p.ChunksFailed++
		}
	})
}

func (t *tracker) snapshot() models.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *tracker) commit(ctx context.Context, mutate func(*models.Progress)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutate(&t.progress)
	if err := t.sink.PublishProgress(ctx, t.runID, t.progress); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}
