package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"payment-status-orchestrator/internal/archive"
	"payment-status-orchestrator/internal/config"
	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/store"
	"payment-status-orchestrator/internal/telemetry"
)

// RunQueue is the slice of the queue layer the processor needs.
type RunQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, runID string) error
	ExtendLease(ctx context.Context, runID string, extension time.Duration) error
	ScheduleRetry(ctx context.Context, runID string, at time.Time) error
	PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
}

// RunStore is the slice of the persistence layer the processor needs.
type RunStore interface {
	GetRun(ctx context.Context, id string) (models.Run, error)
	CompleteRun(ctx context.Context, runID string, result models.RunResult, p models.Progress) error
	MarkFailed(ctx context.Context, runID, lastError string) error
	IncrementAttempts(ctx context.Context, runID string) (int, error)
	RecordEvent(ctx context.Context, runID, event, detail string) error
}

// Engine executes one run to its aggregated result.
type Engine interface {
	Execute(ctx context.Context, run models.Run) (models.RunResult, models.Progress, error)
}

// Processor drives the worker execution loop: it claims runs off the queue
// and executes them through the orchestration engine.
type Processor struct {
	cfg      config.Config
	queue    RunQueue
	store    RunStore
	engine   Engine
	archiver archive.Archiver
	workerID string
}

// New creates a processor. archiver may be nil when archival is disabled.
func New(cfg config.Config, q RunQueue, st RunStore, engine Engine, archiver archive.Archiver, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		engine:   engine,
		archiver: archiver,
		workerID: workerID,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteDue(ctx, time.Now(), 100)
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("reclaimed %d expired run leases", len(reclaimed))
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		runID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || runID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.handleRun(ctx, runID)
	}
}

func (p *Processor) handleRun(ctx context.Context, runID string) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			_ = p.queue.Ack(ctx, runID)
			return
		}
		log.Printf("run %s: load: %v", runID, err)
		return
	}
	if run.Phase == models.PhaseCompleted || run.Phase == models.PhaseFailed {
		// Redelivered after a terminal transition; nothing left to do.
		_ = p.queue.Ack(ctx, runID)
		return
	}

	_ = p.store.RecordEvent(ctx, runID, "started", fmt.Sprintf("worker=%s attempt=%d", p.workerID, run.Attempts+1))
	telemetry.RunsInFlight.Inc()
	defer telemetry.RunsInFlight.Dec()

	// Heartbeat the lease while the run executes; runs routinely outlive the
	// visibility window.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, runID)

	result, progress, execErr := p.engine.Execute(ctx, run)
	if execErr == nil {
		execErr = p.store.CompleteRun(ctx, runID, result, progress)
	}
	stopHeartbeat()

	if execErr == nil {
		_ = p.queue.Ack(ctx, runID)
		_ = p.store.RecordEvent(ctx, runID, "completed",
			fmt.Sprintf("chunks=%d failed_chunks=%d lookup_failed=%d", progress.ChunksTotal, progress.ChunksFailed, len(result.GatewayLookupFailed)))
		telemetry.RunsCompleted.Inc()
		p.archiveResult(ctx, runID, result)
		return
	}

	if ctx.Err() != nil {
		// Shutting down: leave the lease to expire so another worker picks
		// the run up.
		return
	}

	log.Printf("run %s: execute: %v", runID, execErr)
	attempts, err := p.store.IncrementAttempts(ctx, runID)
	if err != nil {
		log.Printf("run %s: increment attempts: %v", runID, err)
		attempts = p.cfg.MaxRunAttempts
	}

	if attempts >= p.cfg.MaxRunAttempts {
		_ = p.store.MarkFailed(ctx, runID, execErr.Error())
		_ = p.queue.Ack(ctx, runID)
		_ = p.store.RecordEvent(ctx, runID, "failed", execErr.Error())
		telemetry.RunsFailed.Inc()
		return
	}

	next := time.Now().Add(backoffWithJitter(p.cfg.RunRetryBackoff, p.cfg.RunRetryBackoffMax, attempts))
	_ = p.queue.ScheduleRetry(ctx, runID, next)
	_ = p.store.RecordEvent(ctx, runID, "retry_scheduled",
		fmt.Sprintf("next_run=%s attempts=%d", next.UTC().Format(time.RFC3339), attempts))
	telemetry.RunRetries.Inc()
}

func (p *Processor) heartbeat(ctx context.Context, runID string) {
	interval := p.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, runID, p.cfg.VisibilityTimeout); err != nil && ctx.Err() == nil {
				log.Printf("run %s: extend lease: %v", runID, err)
			}
		}
	}
}

func (p *Processor) archiveResult(ctx context.Context, runID string, result models.RunResult) {
	if p.archiver == nil {
		return
	}
	doc, err := json.Marshal(result)
	if err != nil {
		log.Printf("run %s: marshal result for archive: %v", runID, err)
		return
	}
	location, err := p.archiver.Archive(ctx, runID, doc)
	if err != nil {
		log.Printf("run %s: archive result: %v", runID, err)
		return
	}
	_ = p.store.RecordEvent(ctx, runID, "archived", location)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
