// Package substrate provides the durable-execution primitives the
// orchestration engine runs on: retried, at-least-once step invocation with
// terminal outcomes cached so a redelivered run replays recorded results
// instead of repeating external side effects.
package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInternal marks substrate faults (step cache I/O). Unlike step failures,
// these abort the run instead of being recorded as data.
var ErrInternal = errors.New("substrate internal error")

// StepFailure is a step's recorded terminal failure: the call failed after
// exhausting retries (or permanently) and the outcome was committed to the
// cache. Replays of the same step return the same failure.
type StepFailure struct {
	Key     string
	Message string
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.Key, e.Message)
}

// outcome is the cached terminal state of one step.
type outcome struct {
	OK    bool   `json:"ok"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Executor invokes steps at-least-once against a StepCache.
type Executor struct {
	cache  StepCache
	policy Policy
}

// NewExecutor builds an executor with the given cache and per-run retry policy.
func NewExecutor(cache StepCache, policy Policy) *Executor {
	return &Executor{cache: cache, policy: policy}
}

// Invoke executes fn under the retry policy, keyed by a deterministic step
// key. If the key already has a terminal outcome the cached result is
// returned and fn is never called; this is what makes crash-and-resume safe
// for calls with downstream side effects.
//
// A returned *StepFailure is a recorded, recoverable failure. Errors wrapping
// ErrInternal mean the cache itself failed and the run must abort.
func (e *Executor) Invoke(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (string, error) {
	raw, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrInternal, key, err)
	}
	if hit {
		var out outcome
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("%w: decode %s: %v", ErrInternal, key, err)
		}
		if out.OK {
			return out.Value, nil
		}
		return "", &StepFailure{Key: key, Message: out.Error}
	}

	var value string
	callErr := Retry(ctx, e.policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if callErr != nil && ctx.Err() != nil {
		// Shutdown, not a terminal outcome: leave the key unset so the
		// redelivered run re-attempts the step.
		return "", callErr
	}

	out := outcome{OK: callErr == nil, Value: value}
	if callErr != nil {
		out.Error = callErr.Error()
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", ErrInternal, key, err)
	}
	if err := e.cache.Put(ctx, key, encoded); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrInternal, key, err)
	}

	if callErr != nil {
		return "", &StepFailure{Key: key, Message: callErr.Error()}
	}
	return value, nil
}
