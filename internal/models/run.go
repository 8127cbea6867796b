package models

import (
	"time"
)

// Run phases persisted in Postgres.
const (
	PhaseLookup      = "LOOKUP"
	PhaseProcessing  = "PROCESSING"
	PhaseAggregating = "AGGREGATING"
	PhaseCompleted   = "COMPLETED"
	PhaseFailed      = "FAILED"
)

// Failure stages recorded on a FailedChunk.
const (
	StageLookupIndexNotify = "LOOKUP_INDEX_NOTIFY"
	StageStatusCheck       = "STATUS_CHECK"
)

// Caller-visible run statuses returned by the HTTP API.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusNotFound  = "NOT_FOUND"
)

// RunConfig is snapshotted into the run row at creation and immutable after.
type RunConfig struct {
	LookupBatchSize   int           `json:"lookup_batch_size"`
	ChunkSize         int           `json:"chunk_size"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"max_backoff"`
	PerCallTimeout    time.Duration `json:"per_call_timeout"`
}

// Run is one payment-status-check orchestration persisted in Postgres.
type Run struct {
	ID         string     `json:"id"`
	Tenant     string     `json:"tenant"`
	PaymentIDs []string   `json:"payment_ids"`
	Config     RunConfig  `json:"config"`
	Phase      string     `json:"phase"`
	Progress   Progress   `json:"progress"`
	Result     *RunResult `json:"result,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  *string    `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Chunk is a fixed-size slice of one gateway's payment IDs. Index values are
// contiguous from 0 within the gateway and never change after grouping.
type Chunk struct {
	Index      int      `json:"chunk_index"`
	PaymentIDs []string `json:"payment_ids"`
}

// FailedChunk records one contained failure: the whole chunk for a notify
// failure, a single payment ID for a status-check failure.
type FailedChunk struct {
	ChunkIndex int      `json:"chunkIndex"`
	PaymentIDs []string `json:"paymentIds"`
	Error      string   `json:"error"`
	Stage      string   `json:"stage"`
}

// GatewayResult is produced once per gateway and immutable after.
type GatewayResult struct {
	Gateway              string        `json:"gateway"`
	SuccessfulPaymentIDs []string      `json:"successfulPaymentIds"`
	FailedChunks         []FailedChunk `json:"failedChunks"`
}

// RunResult is the aggregated outcome of a completed run.
type RunResult struct {
	Successful          map[string][]string      `json:"successful"`
	FailedChunks        map[string][]FailedChunk `json:"failedChunks"`
	GatewayLookupFailed []string                 `json:"gatewayLookupFailed"`
}

// Progress is the read-only projection of a run's state. Snapshots are
// absolute, so republishing after a redelivery converges instead of
// double-counting.
//
// A chunk that fails at the notify stage counts toward both ChunksCompleted
// and ChunksFailed: completed tracks chunks the engine is done with, failed is
// the subset lost whole. ChunksCompleted reaches ChunksTotal on every finished
// run; do not expect ChunksCompleted + ChunksFailed == ChunksTotal.
type Progress struct {
	TotalPayments      int    `json:"totalPayments"`
	GatewaysIdentified int    `json:"gatewaysIdentified"`
	ChunksTotal        int    `json:"chunksTotal"`
	ChunksCompleted    int    `json:"chunksCompleted"`
	ChunksFailed       int    `json:"chunksFailed"`
	CurrentPhase       string `json:"currentPhase"`
}

// RunEvent is one audit row for a run.
type RunEvent struct {
	RunID    string    `json:"run_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

// StatusFor maps a persisted phase to the caller-visible status.
func StatusFor(phase string) string {
	switch phase {
	case PhaseCompleted:
		return StatusCompleted
	case PhaseFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
