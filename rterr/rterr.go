// Package rterr defines the error taxonomy shared by every subsystem,
// per spec.md §7. It follows the teacher's flat sentinel-error style
// (eventloop's package-level Err* vars, e.g. ErrLoopAlreadyRunning) for
// the small number of boundary conditions callers branch on directly,
// and adds a typed *Error carrying a Kind for the cases where the caller
// needs to recover the disposition (retry, fall back a tier, surface to
// guest) rather than match a single sentinel.
package rterr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec.md §7. It is a kind, not a
// type: a single Kind may be produced by several components.
type Kind int

const (
	// KindUnknown is the zero value and never intentionally produced.
	KindUnknown Kind = iota

	// KindStructuralIR: malformed IR reaching the analyzer or a backend
	// verifier (use-before-def, missing/duplicate terminator). Fatal for
	// the affected block; the block remains at its current tier.
	KindStructuralIR

	// KindOutOfCodeMemory: mapping or protecting an executable code region
	// failed (codemem). engine.runCompile logs it and the block stays at
	// its current tier; no component evicts artifacts or retries.
	KindOutOfCodeMemory

	// KindOutOfHeapMemory: a guest-memory allocation could not be
	// satisfied (numa.Placement.Allocate, engine.AllocateGuestMemory). It
	// is returned to the caller; no component runs a collection or retries.
	KindOutOfHeapMemory

	// KindTranslationFault: the page-table walker found no mapping.
	// Surfaced to the guest as an architecture-specific page fault.
	KindTranslationFault

	// KindInvalidAddress: a programming error in TLB or allocator usage.
	// Fatal in debug builds, surfaced otherwise.
	KindInvalidAddress

	// KindCollectionFailed: an internal GC bug. Always fatal.
	KindCollectionFailed

	// KindPrefetchFailed: a speculative prefetch failed. Always silently
	// dropped; never visible to the guest.
	KindPrefetchFailed
)

func (k Kind) String() string {
	switch k {
	case KindStructuralIR:
		return "structural_ir"
	case KindOutOfCodeMemory:
		return "out_of_code_memory"
	case KindOutOfHeapMemory:
		return "out_of_heap_memory"
	case KindTranslationFault:
		return "translation_fault"
	case KindInvalidAddress:
		return "invalid_address"
	case KindCollectionFailed:
		return "collection_failed"
	case KindPrefetchFailed:
		return "prefetch_failed"
	default:
		return "unknown"
	}
}

// Fatal reports whether, per spec.md §7's disposition column, an error of
// this kind halts the subsystem outright rather than falling back or
// retrying. Only CollectionFailed reports true; Fatal reports false for
// InvalidAddress, and this package provides no debug-build check.
func (k Kind) Fatal() bool {
	return k == KindCollectionFailed
}

// Error is the structured form used when a caller needs to recover Kind
// and Component programmatically (see As).
type Error struct {
	Kind      Kind
	Component string // e.g. "ir", "regalloc", "gc", "tlb"
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error for the given kind and component, optionally
// wrapping a cause.
func New(kind Kind, component string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Cause: cause}
}

// As reports whether err (or something it wraps) is an *Error of the given
// kind, returning it for inspection.
func As(err error, kind Kind) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == kind {
		return e, true
	}
	return nil, false
}

// Sentinels for conditions that have exactly one meaning and never carry a
// Kind-specific payload, matching the teacher's package-level Err* style.
var (
	// ErrBlockMalformed is returned by ir.Analyze for structurally invalid
	// blocks; see also New(KindStructuralIR, ...) for the wrapped form.
	ErrBlockMalformed = errors.New("rterr: block is structurally malformed")

	// ErrNotFound is the cause wrapped in the page-table walker's
	// KindTranslationFault error when no mapping exists. The code cache
	// and TLB report misses with a boolean, not with this sentinel.
	ErrNotFound = errors.New("rterr: not found")

	// ErrStale names a queued compile or prefetch request that was marked
	// stale before it ran. No component returns it: the engine drops a
	// stale compile request without an error.
	ErrStale = errors.New("rterr: request superseded")

	// ErrShutdown is returned by components after Shutdown has been
	// called, mirroring eventloop.ErrLoopTerminated.
	ErrShutdown = errors.New("rterr: component has been shut down")
)
