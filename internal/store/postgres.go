package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-status-orchestrator/internal/models"
)

// ErrRunNotFound is returned when no run exists for the given ID.
var ErrRunNotFound = errors.New("run not found")

// Store wraps pgxpool for Postgres persistence of runs and their audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRunParams collects inputs required to insert a run.
type CreateRunParams struct {
	Tenant     string
	PaymentIDs []string
	Config     models.RunConfig
}

// CreateRun inserts a run row in the LOOKUP phase with zeroed progress.
func (s *Store) CreateRun(ctx context.Context, p CreateRunParams) (models.Run, error) {
	if p.Tenant == "" {
		p.Tenant = "default"
	}

	idsJSON, err := json.Marshal(p.PaymentIDs)
	if err != nil {
		return models.Run{}, fmt.Errorf("marshal payment ids: %w", err)
	}
	cfgJSON, err := json.Marshal(p.Config)
	if err != nil {
		return models.Run{}, fmt.Errorf("marshal run config: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, tenant, payment_ids, config, phase, total_payments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, p.Tenant, idsJSON, cfgJSON, models.PhaseLookup, len(p.PaymentIDs), now)
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}

	return models.Run{
		ID:         id,
		Tenant:     p.Tenant,
		PaymentIDs: p.PaymentIDs,
		Config:     p.Config,
		Phase:      models.PhaseLookup,
		Progress: models.Progress{
			TotalPayments: len(p.PaymentIDs),
			CurrentPhase:  models.PhaseLookup,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant, payment_ids, config, phase,
		       total_payments, gateways_identified, chunks_total, chunks_completed, chunks_failed,
		       result, attempts, last_error, created_at, updated_at
		FROM runs WHERE id = $1
	`, id)

	var run models.Run
	var idsJSON, cfgJSON []byte
	var resultJSON []byte
	var lastErr pgtype.Text

	err := row.Scan(&run.ID, &run.Tenant, &idsJSON, &cfgJSON, &run.Phase,
		&run.Progress.TotalPayments, &run.Progress.GatewaysIdentified,
		&run.Progress.ChunksTotal, &run.Progress.ChunksCompleted, &run.Progress.ChunksFailed,
		&resultJSON, &run.Attempts, &lastErr, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, ErrRunNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal(idsJSON, &run.PaymentIDs); err != nil {
		return models.Run{}, fmt.Errorf("unmarshal payment ids: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
		return models.Run{}, fmt.Errorf("unmarshal run config: %w", err)
	}
	if len(resultJSON) > 0 {
		var result models.RunResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return models.Run{}, fmt.Errorf("unmarshal result: %w", err)
		}
		run.Result = &result
	}
	run.Progress.CurrentPhase = run.Phase
	if lastErr.Valid {
		run.LastError = &lastErr.String
	}
	return run, nil
}

// PublishProgress commits one absolute progress snapshot. Each call is a
// single UPDATE, so readers always observe a consistent committed state.
func (s *Store) PublishProgress(ctx context.Context, runID string, p models.Progress) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET phase = $2, gateways_identified = $3, chunks_total = $4,
		    chunks_completed = $5, chunks_failed = $6, updated_at = NOW()
		WHERE id = $1
	`, runID, p.CurrentPhase, p.GatewaysIdentified, p.ChunksTotal, p.ChunksCompleted, p.ChunksFailed)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CompleteRun stores the final result, the closing progress snapshot, and
// flips the phase to COMPLETED in one statement.
func (s *Store) CompleteRun(ctx context.Context, runID string, result models.RunResult, p models.Progress) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE runs
		SET phase = $2, result = $3, gateways_identified = $4, chunks_total = $5,
		    chunks_completed = $6, chunks_failed = $7, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, runID, models.PhaseCompleted, resultJSON, p.GatewaysIdentified, p.ChunksTotal, p.ChunksCompleted, p.ChunksFailed)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// MarkFailed transitions a run to FAILED with the terminal error message.
func (s *Store) MarkFailed(ctx context.Context, runID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET phase = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, runID, models.PhaseFailed, lastError)
	return err
}

// IncrementAttempts bumps the redelivery counter and returns the new value.
func (s *Store) IncrementAttempts(ctx context.Context, runID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE runs SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1
		RETURNING attempts
	`, runID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRunNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// RecordEvent adds an audit row.
func (s *Store) RecordEvent(ctx context.Context, runID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_events (run_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, runID, event, detail)
	return err
}

// ListEvents returns the audit trail for a run, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, event, detail, ts FROM run_events
		WHERE run_id = $1 ORDER BY id ASC LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []models.RunEvent
	for rows.Next() {
		var ev models.RunEvent
		if err := rows.Scan(&ev.RunID, &ev.Event, &ev.Detail, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
