package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payment-status-orchestrator/internal/gateway"
	"payment-status-orchestrator/internal/models"
)

func testRunConfig() models.RunConfig {
	return models.RunConfig{
		LookupBatchSize:   10,
		ChunkSize:         5,
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
		PerCallTimeout:    time.Second,
	}
}

type callSpan struct {
	paymentID string
	start     time.Time
	end       time.Time
}

// fakeLookup resolves payment IDs from a static table.
type fakeLookup struct {
	assign   map[string]string
	notFound map[string]bool
	failing  map[string]bool
	delay    time.Duration

	mu    sync.Mutex
	calls map[string]int
	spans []callSpan
}

func newFakeLookup(assign map[string]string) *fakeLookup {
	return &fakeLookup{
		assign:   assign,
		notFound: map[string]bool{},
		failing:  map[string]bool{},
		calls:    map[string]int{},
	}
}

func (f *fakeLookup) LookupGateway(_ context.Context, paymentID string) (string, error) {
	start := time.Now()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls[paymentID]++
	f.spans = append(f.spans, callSpan{paymentID: paymentID, start: start, end: time.Now()})
	f.mu.Unlock()

	if f.notFound[paymentID] {
		return "", gateway.ErrPaymentNotFound
	}
	if f.failing[paymentID] {
		return "", errors.New("lookup index unavailable")
	}
	gw, ok := f.assign[paymentID]
	if !ok {
		return "", gateway.ErrPaymentNotFound
	}
	return gw, nil
}

func (f *fakeLookup) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type notifyCall struct {
	gateway    string
	paymentIDs []string
}

// fakeNotifier records notify calls and fails configured chunks.
type fakeNotifier struct {
	failChunks map[string]bool // "gateway:chunkIndex-of-first-id" style keys via firstID

	mu    sync.Mutex
	calls []notifyCall
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failChunks: map[string]bool{}}
}

// failChunkStartingWith makes every chunk whose first payment ID matches fail.
func (f *fakeNotifier) failChunkStartingWith(firstID string) {
	f.failChunks[firstID] = true
}

func (f *fakeNotifier) Notify(_ context.Context, gw string, paymentIDs []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{gateway: gw, paymentIDs: append([]string(nil), paymentIDs...)})
	f.mu.Unlock()
	if len(paymentIDs) > 0 && f.failChunks[paymentIDs[0]] {
		return errors.New("notifier rejected batch")
	}
	return nil
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeChecker records check order and fails configured payment IDs.
type fakeChecker struct {
	failIDs map[string]bool
	delays  map[string]time.Duration // per-gateway delay per call

	mu    sync.Mutex
	calls []string
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{failIDs: map[string]bool{}, delays: map[string]time.Duration{}}
}

func (f *fakeChecker) CheckStatus(_ context.Context, gw, paymentID string) (string, error) {
	if d := f.delays[gw]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.calls = append(f.calls, paymentID)
	f.mu.Unlock()
	if f.failIDs[paymentID] {
		return "", fmt.Errorf("status check failed for %s", paymentID)
	}
	return "SETTLED", nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memorySink records progress snapshots and events in publish order.
type memorySink struct {
	mu        sync.Mutex
	snapshots []models.Progress
	events    []string
	failAfter int // fail every publish once this many have happened; 0 disables
}

func (s *memorySink) PublishProgress(_ context.Context, _ string, p models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.snapshots) >= s.failAfter {
		return errors.New("progress store unavailable")
	}
	s.snapshots = append(s.snapshots, p)
	return nil
}

func (s *memorySink) RecordEvent(_ context.Context, _ string, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event+" "+detail)
	return nil
}

func (s *memorySink) all() []models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Progress(nil), s.snapshots...)
}
