package core

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Callers match with errors.Is;
// provider adapters classify backend responses into one of the call kinds.
var (
	// ErrThreadNotFound marks an unknown or already evicted continuation id.
	// Terminal for the call; the caller must start a fresh thread.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrTruncated signals that the reserved output allowance left no room
	// for conversation history. Non-fatal; rebuild results carry a flag and
	// only zero-budget-is-fatal callers surface this error.
	ErrTruncated = errors.New("context truncated")

	// ErrUnavailable marks a provider that is down or disabled.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout marks a provider call that exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")

	// ErrRateLimited marks a provider refusing the call due to rate limits.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrBackend marks any other backend-reported failure.
	ErrBackend = errors.New("backend error")

	// ErrAllProvidersFailed marks a consensus session in which no member
	// produced a result. The thread is left unmodified so retry is safe.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// CallError carries a classified provider failure across the fan-out boundary
// without unwinding it. Kind is always one of the call sentinels above so
// errors.Is(err, core.ErrTimeout) etc. works through the wrapper.
type CallError struct {
	ProviderID string
	Kind       error
	Err        error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v: %v", e.ProviderID, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.ProviderID, e.Kind)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches the classified kind in addition to the wrapped cause.
func (e *CallError) Is(target error) bool { return errors.Is(e.Kind, target) }

// NewCallError classifies a provider failure. A nil kind defaults to ErrBackend.
func NewCallError(providerID string, kind, err error) *CallError {
	if kind == nil {
		kind = ErrBackend
	}
	return &CallError{ProviderID: providerID, Kind: kind, Err: err}
}
