// Package kmcerr defines the "Algorithmic failures" error taxonomy of
// spec.md §7: conditions that are locally recovered by the caller
// (discard the candidate, try again) rather than unwound to the top of
// the program. This is the Go replacement for the original's use of
// C++ exceptions for control flow inside find_mechanisms (spec.md §9
// design note).
package kmcerr

import "fmt"

// Kind enumerates the recoverable failure modes a saddle-point search
// or mechanism-localisation step can raise.
type Kind int

const (
	// KindNoSaddle: the dimer search did not converge to a saddle.
	KindNoSaddle Kind = iota
	// KindMinimiserStalled: post-nudge minimisation did not converge,
	// or one of the two resulting minima was not distinct/did not match
	// the initial basin within basin_tol (spec.md §4.5 postconditions).
	KindMinimiserStalled
	// KindSecondOrderSaddle: the Hessian at the candidate saddle had a
	// number of sub-zero_tol eigenvalues other than exactly one.
	KindSecondOrderSaddle
	// KindCaptureTooLow: the unpacked mechanism's fractional capture was
	// at or below rel_cap_tol (spec.md §7: warn + dump, execution
	// continues — callers of this Kind do not treat it as discarding the
	// candidate, only as a forensic signal).
	KindCaptureTooLow
	// KindCentreMismatch: the proto-mechanism's centre of maximal
	// displacement disagreed with the packaged centre.
	KindCentreMismatch
	// KindUnpackTolExceeded: rotor-aligned residual exceeded unpack_tol.
	KindUnpackTolExceeded
	// KindCatalogueMismatch: the site about to be reconstructed no
	// longer matches its catalogued environment; the driver returns it
	// without a jitter or a retry.
	KindCatalogueMismatch
)

func (k Kind) String() string {
	switch k {
	case KindNoSaddle:
		return "no_saddle"
	case KindMinimiserStalled:
		return "minimiser_stalled"
	case KindSecondOrderSaddle:
		return "second_order_saddle"
	case KindCaptureTooLow:
		return "capture_too_low"
	case KindCentreMismatch:
		return "centre_mismatch"
	case KindUnpackTolExceeded:
		return "unpack_tol_exceeded"
	case KindCatalogueMismatch:
		return "catalogue_mismatch"
	default:
		return "unknown"
	}
}

// SearchError is a recoverable failure, carrying enough context to log
// and retry without unwinding to the top-level driver loop.
type SearchError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *SearchError) Unwrap() error { return e.Err }

func New(kind Kind, detail string) *SearchError {
	return &SearchError{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *SearchError {
	return &SearchError{Kind: kind, Detail: detail, Err: err}
}

// Is reports whether err is a *SearchError of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*SearchError)
	return ok && se.Kind == kind
}
