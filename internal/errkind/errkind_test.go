package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	err := New(Conflict, "key image already claimed")

	kind, ok := Of(err)
	require.True(t, ok)
	require.Equal(t, Conflict, kind)

	require.True(t, errors.Is(err, New(Conflict, "different reason")))
	require.False(t, errors.Is(err, New(Structural, "")))
}

func TestWrappingPreservesKindAndCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(TransientIO, "batch commit", cause)

	require.ErrorIs(t, err, cause)
	kind, ok := Of(err)
	require.True(t, ok)
	require.Equal(t, TransientIO, kind)
	require.Contains(t, err.Error(), "transient_io")
	require.Contains(t, err.Error(), "batch commit")
	require.Contains(t, err.Error(), "disk on fire")
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	inner := New(Cryptographic, "ring signature invalid")
	outer := fmt.Errorf("admitting transaction: %w", inner)

	kind, ok := Of(outer)
	require.True(t, ok)
	require.Equal(t, Cryptographic, kind)
}

func TestUnclassifiedError(t *testing.T) {
	_, ok := Of(errors.New("plain"))
	require.False(t, ok)
}

func TestSentinelKinds(t *testing.T) {
	for sentinel, want := range map[error]Kind{
		ErrAlreadyApplied:      InvariantViolation,
		ErrKeyImageCollision:   InvariantViolation,
		ErrOutputKeyCollision:  InvariantViolation,
		ErrDuplicateTx:         Conflict,
		ErrConflictingKeyImage: Conflict,
		ErrPrevHashMismatch:    Stale,
	} {
		kind, ok := Of(sentinel)
		require.True(t, ok)
		require.Equal(t, want, kind)
	}
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "structural", Structural.String())
	require.Equal(t, "invariant_violation", InvariantViolation.String())
	require.Equal(t, "unknown", Kind(99).String())
}
