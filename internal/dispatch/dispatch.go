// Package dispatch tries candidate providers strictly in selector order,
// retrying transient failures per candidate with exponential backoff.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aethergate/aethergate/internal/provider"

	log "github.com/sirupsen/logrus"
)

// ProviderFailure captures the terminal reason one candidate was given up on.
type ProviderFailure struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
	Reason     string `json:"reason"`
	Transient  bool   `json:"transient"`
	Attempts   int    `json:"attempts"`
}

// AllProvidersFailedError aggregates every attempted candidate's terminal
// failure. It carries exactly one entry per attempted provider.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "dispatch: all providers failed"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ProviderID, f.Reason))
	}
	return "dispatch: all providers failed: " + strings.Join(parts, "; ")
}

// Result is a definitive dispatch success.
type Result struct {
	Content    string
	Usage      provider.TokenUsage
	ProviderID string
	Model      string
}

// AttemptEvent describes one finished call attempt, for decision tracing.
type AttemptEvent struct {
	ProviderID string
	Model      string
	Attempt    int // 1-indexed within the candidate
	Err        error
	WillRetry  bool
	Delay      time.Duration
}

// Engine executes the candidate attempt loop.
type Engine struct {
	registry       *provider.Registry
	retry          RetryPolicy
	attemptTimeout time.Duration

	// OnAttempt, when set, observes every finished attempt. It runs on the
	// dispatching goroutine and must be cheap.
	OnAttempt func(AttemptEvent)
}

// NewEngine constructs a dispatch engine.
func NewEngine(registry *provider.Registry, retry RetryPolicy, attemptTimeout time.Duration) *Engine {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}
	return &Engine{
		registry:       registry,
		retry:          retry,
		attemptTimeout: attemptTimeout,
	}
}

// Dispatch tries candidates in order until one succeeds. It never rewinds
// to an earlier candidate, and nothing is written to the usage ledger
// here; cost commits only after the caller sees a definitive success.
func (e *Engine) Dispatch(ctx context.Context, candidates []*provider.Descriptor, prompt, taskHint string) (*Result, error) {
	if e == nil {
		return nil, fmt.Errorf("dispatch: nil engine")
	}
	if len(candidates) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	failures := make([]ProviderFailure, 0, len(candidates))
	for _, desc := range candidates {
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, errCtx
		}

		_, adapter, ok := e.registry.Get(desc.ID)
		if !ok {
			failures = append(failures, ProviderFailure{
				ProviderID: desc.ID,
				Reason:     "not registered",
			})
			continue
		}

		model := desc.ModelFor(taskHint)
		result, failure, errCtx := e.tryCandidate(ctx, desc, adapter, prompt, model)
		if errCtx != nil {
			return nil, errCtx
		}
		if result != nil {
			return &Result{
				Content:    result.Content,
				Usage:      result.Usage,
				ProviderID: desc.ID,
				Model:      model,
			}, nil
		}
		failures = append(failures, failure)
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

// tryCandidate runs the per-candidate retry loop. It returns a non-nil
// result on success, a terminal failure otherwise, or a context error when
// the caller cancelled.
func (e *Engine) tryCandidate(ctx context.Context, desc *provider.Descriptor, adapter provider.Adapter, prompt, model string) (*provider.CallResult, ProviderFailure, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
		result, errCall := adapter.Call(attemptCtx, prompt, model)
		cancel()

		if errCall == nil && result != nil {
			e.observe(AttemptEvent{ProviderID: desc.ID, Model: model, Attempt: attempts})
			return result, ProviderFailure{}, nil
		}
		if errCall == nil {
			errCall = &provider.CallError{Provider: desc.ID, Message: "empty result"}
		}
		lastErr = errCall

		// The caller cancelling is not a provider failure.
		if ctx.Err() != nil {
			return nil, ProviderFailure{}, ctx.Err()
		}

		transient := provider.IsTransient(errCall)
		willRetry := transient && attempt < e.retry.MaxAttempts-1
		delay := time.Duration(0)
		if willRetry {
			delay = e.retry.Delay(attempt)
		}
		e.observe(AttemptEvent{
			ProviderID: desc.ID,
			Model:      model,
			Attempt:    attempts,
			Err:        errCall,
			WillRetry:  willRetry,
			Delay:      delay,
		})

		if !transient {
			// Non-transient failures skip retry and advance to the next
			// candidate immediately.
			return nil, ProviderFailure{
				ProviderID: desc.ID,
				Model:      model,
				Reason:     errCall.Error(),
				Attempts:   attempts,
			}, nil
		}
		if !willRetry {
			break
		}

		log.Warnf("dispatch: transient failure, retrying (provider=%s attempt=%d delay=%s)", desc.ID, attempts, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return nil, ProviderFailure{}, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, ProviderFailure{
		ProviderID: desc.ID,
		Model:      model,
		Reason:     lastErr.Error(),
		Transient:  true,
		Attempts:   attempts,
	}, nil
}

func (e *Engine) observe(event AttemptEvent) {
	if e != nil && e.OnAttempt != nil {
		e.OnAttempt(event)
	}
}
