// Package orchestrator implements the payment-status-check pipeline: batched
// gateway lookups, grouping and chunking, per-gateway sequential chunk
// processing with concurrent gateway fan-out, and result aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"payment-status-orchestrator/internal/gateway"
	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/substrate"
	"payment-status-orchestrator/internal/telemetry"
)

// Engine is the run orchestrator. It owns the run's state for the duration of
// Execute; everything readers see goes through the ProgressSink.
type Engine struct {
	lookup   gateway.LookupClient
	notifier gateway.NotifierClient
	checker  gateway.StatusCheckClient
	cache    substrate.StepCache
	sink     ProgressSink
}

// NewEngine wires the engine against its three downstream clients, the
// durable step cache, and the progress sink.
func NewEngine(lookup gateway.LookupClient, notifier gateway.NotifierClient, checker gateway.StatusCheckClient, cache substrate.StepCache, sink ProgressSink) *Engine {
	return &Engine{
		lookup:   lookup,
		notifier: notifier,
		checker:  checker,
		cache:    cache,
		sink:     sink,
	}
}

// Execute drives one run to its aggregated result. Recoverable downstream
// failures are folded into the result; a returned error is an internal fault
// (sink or step cache) and the caller decides whether to redeliver or fail
// the run. Execute is safe to re-run for the same run: step outcomes replay
// from the cache and progress snapshots are absolute.
func (e *Engine) Execute(ctx context.Context, run models.Run) (models.RunResult, models.Progress, error) {
	exec := substrate.NewExecutor(e.cache, substrate.PolicyFrom(run.Config))
	tr := newTracker(e.sink, run.ID, len(run.PaymentIDs))

	if err := tr.setPhase(ctx, models.PhaseLookup); err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}

	groups, lookupFailed, err := e.lookupPhase(ctx, exec, tr, run)
	if err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}

	chunked, chunksTotal := buildChunks(groups, run.Config.ChunkSize)
	if err := tr.setChunksTotal(ctx, chunksTotal); err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}
	if err := tr.setPhase(ctx, models.PhaseProcessing); err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}

	// One orchestrator per gateway, all concurrent. Gateway count is small
	// (tens at most), so the fan-out is unbounded.
	results := make([]models.GatewayResult, groups.len())
	g, gctx := errgroup.WithContext(ctx)
	for i, gw := range groups.order {
		i, gw := i, gw
		orch := &gatewayOrchestrator{
			gateway: gw,
			chunks:  chunked[gw],
			proc: &chunkProcessor{
				notifier: e.notifier,
				checker:  e.checker,
				exec:     exec,
				runID:    run.ID,
			},
			tracker: tr,
		}
		g.Go(func() error {
			res, err := orch.run(gctx)
			if err != nil {
				return fmt.Errorf("gateway %s: %w", gw, err)
			}
			results[i] = res
			if err := e.sink.RecordEvent(gctx, run.ID, "gateway_completed",
				fmt.Sprintf("gateway=%s successes=%d failed_chunks=%d", gw, len(res.SuccessfulPaymentIDs), len(res.FailedChunks))); err != nil {
				log.Printf("run %s: record gateway event: %v", run.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}

	if err := tr.setPhase(ctx, models.PhaseAggregating); err != nil {
		return models.RunResult{}, tr.snapshot(), err
	}

	result := aggregate(results, lookupFailed)
	return result, tr.snapshot(), nil
}

// lookupPhase resolves every payment ID to its owning gateway in strictly
// sequential batches; lookups within one batch run concurrently and a single
// payment's failure never blocks its peers.
func (e *Engine) lookupPhase(ctx context.Context, exec *substrate.Executor, tr *tracker, run models.Run) (*gatewayGroups, []string, error) {
	ids := run.PaymentIDs
	assignments := make([]string, len(ids))
	failed := make([]bool, len(ids))

	for _, b := range splitBatches(len(ids), run.Config.LookupBatchSize) {
		start := b.start
		err := substrate.Parallel(ctx, b.end-b.start, func(ctx context.Context, j int) error {
			i := start + j
			pid := ids[i]
			gw, err := exec.Invoke(ctx, fmt.Sprintf("%s:lookup:%s", run.ID, pid), func(ctx context.Context) (string, error) {
				name, err := e.lookup.LookupGateway(ctx, pid)
				if errors.Is(err, gateway.ErrPaymentNotFound) {
					return "", substrate.Permanent(err)
				}
				return name, err
			})
			if err != nil {
				var step *substrate.StepFailure
				if !errors.As(err, &step) {
					return err
				}
				telemetry.LookupFailures.Inc()
				failed[i] = true
				return nil
			}
			assignments[i] = gw
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	groups := newGatewayGroups()
	lookupFailed := make([]string, 0)
	seen := make(map[string]struct{}, len(ids))
	for i, pid := range ids {
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		if failed[i] {
			lookupFailed = append(lookupFailed, pid)
			continue
		}
		groups.add(assignments[i], pid)
	}

	if err := tr.setGatewaysIdentified(ctx, groups.len()); err != nil {
		return nil, nil, err
	}
	return groups, lookupFailed, nil
}

// aggregate merges per-gateway results into the final run result.
func aggregate(results []models.GatewayResult, lookupFailed []string) models.RunResult {
	out := models.RunResult{
		Successful:          make(map[string][]string, len(results)),
		FailedChunks:        make(map[string][]models.FailedChunk),
		GatewayLookupFailed: lookupFailed,
	}
	for _, res := range results {
		out.Successful[res.Gateway] = res.SuccessfulPaymentIDs
		if len(res.FailedChunks) > 0 {
			out.FailedChunks[res.Gateway] = res.FailedChunks
		}
	}
	return out
}
