package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TokenUsage counts tokens consumed by one provider call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns the combined token count.
func (u TokenUsage) Total() int64 { return u.InputTokens + u.OutputTokens }

// CallResult is the successful outcome of one provider call.
type CallResult struct {
	Content string
	Usage   TokenUsage
}

// Adapter is the opaque contract a provider backend implements. The wire
// protocol behind it is owned elsewhere.
type Adapter interface {
	Call(ctx context.Context, prompt, model string) (*CallResult, error)
	Health(ctx context.Context) bool
}

// CallError is a classified provider call failure.
type CallError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" && e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status=%d)", e.Provider, e.Message, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status=%d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: call failed", e.Provider)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient reports whether the failure is worth retrying on the same
// provider: timeouts, rate limits, and server-side errors.
func (e *CallError) Transient() bool {
	if e == nil {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode == 0 && e.Err != nil {
		// Network-level failure with no HTTP status.
		return true
	}
	return false
}

// IsTransient classifies any error for per-candidate retry. Deadline
// expiry counts as a timeout; everything unclassified is terminal so bad
// requests never burn retry budget.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
