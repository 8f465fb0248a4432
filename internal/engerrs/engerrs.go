// Package engerrs implements the engine's error taxonomy: Retryable,
// NonRetryableUser, NonRetryableEngine and Unrecoverable. Classification
// drives retry/backoff and shutdown behavior in the indexing executor (C6)
// and the sync source adapter (C3).
package engerrs

import (
	"errors"
	"fmt"
)

// EventContext enriches a NonRetryableUser error with the event that was
// being processed when the handler failed.
type EventContext struct {
	Name       string
	ChainID    uint64
	Block      uint64
	Checkpoint string
}

// Retryable wraps a transient error: RPC hiccup, DB deadlock, a realtime
// transaction timeout. Callers should retry with bounded backoff.
type Retryable struct {
	Op  string
	Err error
}

func (e *Retryable) Error() string {
	return fmt.Sprintf("retryable error during %s: %v", e.Op, e.Err)
}

func (e *Retryable) Unwrap() error { return e.Err }

// NonRetryableUser wraps a failure caused by user code or user data: a
// constraint violation, a required record missing, or a panic/error raised
// from inside a handler. The engine aborts the in-flight transaction and
// terminates with a structured report, but a restart may succeed once the
// user fixes their handler or schema.
type NonRetryableUser struct {
	Event      EventContext
	CodeFrame  string
	Err        error
}

func (e *NonRetryableUser) Error() string {
	if e.CodeFrame != "" {
		return fmt.Sprintf("handler error for %s (chain=%d block=%d checkpoint=%s): %v\n%s",
			e.Event.Name, e.Event.ChainID, e.Event.Block, e.Event.Checkpoint, e.Err, e.CodeFrame)
	}
	return fmt.Sprintf("handler error for %s (chain=%d block=%d checkpoint=%s): %v",
		e.Event.Name, e.Event.ChainID, e.Event.Block, e.Event.Checkpoint, e.Err)
}

func (e *NonRetryableUser) Unwrap() error { return e.Err }

// NonRetryableEngine wraps a failure in the engine itself: a schema/build
// mismatch, an invalid checkpoint, or corrupted shadow-table data. Restarting
// without fixing the underlying cause will fail identically.
type NonRetryableEngine struct {
	Reason string
	Err    error
}

func (e *NonRetryableEngine) Error() string {
	return fmt.Sprintf("engine error: %s: %v", e.Reason, e.Err)
}

func (e *NonRetryableEngine) Unwrap() error { return e.Err }

// Unrecoverable wraps a failure that additionally forbids automatic restart:
// a reorg deeper than the configured finality window, a crash-recovery
// mismatch, or a detected foreign write to an engine-owned table.
type Unrecoverable struct {
	Reason string
	Err    error
}

func (e *Unrecoverable) Error() string {
	return fmt.Sprintf("unrecoverable error: %s: %v", e.Reason, e.Err)
}

func (e *Unrecoverable) Unwrap() error { return e.Err }

// DeepReorg is the specific Unrecoverable raised by the sync source adapter
// when a reorg runs deeper than the in-memory unfinalized-block ring.
type DeepReorg struct {
	ChainID          uint64
	IncomingParent   string
	OldestRingHash   string
}

func (e *DeepReorg) Error() string {
	return fmt.Sprintf("deep reorg on chain %d: incoming parent %s not found in ring (oldest tracked %s)",
		e.ChainID, e.IncomingParent, e.OldestRingHash)
}

// AsUnrecoverable wraps a DeepReorg into the Unrecoverable envelope used for
// uniform top-level handling (exit code 75, no auto-restart).
func (e *DeepReorg) AsUnrecoverable() *Unrecoverable {
	return &Unrecoverable{Reason: "deep reorg", Err: e}
}

// ExitCode returns the process exit code mandated for err's class: 0 is
// never returned here (callers only call this on a fatal error path), 1 for
// ordinary fatal errors, 75 (EX_TEMPFAIL) for Unrecoverable.
func ExitCode(err error) int {
	var unrecoverable *Unrecoverable
	if errors.As(err, &unrecoverable) {
		return 75
	}
	return 1
}
