// Package errkind classifies errors into six failure families so
// callers can branch with errors.Is/errors.As instead of string matching.
package errkind

import "errors"

// Kind is one of the six classified error families. No error produced by
// this module's validation or ledger paths is ever left unclassified.
type Kind int

const (
	// Structural marks malformed input: reject, log, do not retry.
	Structural Kind = iota
	// Cryptographic marks signature/range/commitment verification failure.
	Cryptographic
	// Conflict marks a key-image already spent or already pending.
	Conflict
	// Stale marks a tombstone passed or a parent-hash mismatch.
	Stale
	// TransientIO marks a network timeout or disk contention.
	TransientIO
	// InvariantViolation is fatal: the node halts rather than self-repair.
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Cryptographic:
		return "cryptographic"
	case Conflict:
		return "conflict"
	case Stale:
		return "stale"
	case TransientIO:
		return "transient_io"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its classification and the
// component-specific reason. It is never swallowed: every validation or
// ledger failure path returns one of these.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errkind.New(errkind.Conflict, "")) classification checks
// work without comparing Reason or Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a classified error with no underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs a classified error around an underlying cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Of extracts the Kind of err, if it is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Sentinels for the common, specific conditions every caller needs to
// recognize by identity rather than by constructing a fresh *Error.
var (
	ErrAlreadyApplied      = New(InvariantViolation, "block already applied")
	ErrPrevHashMismatch    = New(Stale, "prev-hash does not match tip")
	ErrKeyImageCollision   = New(InvariantViolation, "key image already present in UTXO application")
	ErrOutputKeyCollision  = New(InvariantViolation, "output public key already present in UTXO set")
	ErrDuplicateTx         = New(Conflict, "duplicate transaction")
	ErrConflictingKeyImage = New(Conflict, "key image already claimed")
)
