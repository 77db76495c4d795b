package quill

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindStatusTable(t *testing.T) {
	cases := []struct {
		kind   ErrorKind
		status int
	}{
		{ErrorInvalidArgument, 400},
		{ErrorUnauthenticated, 401},
		{ErrorPermissionDenied, 403},
		{ErrorNotFound, 404},
		{ErrorConflict, 409},
		{ErrorAlreadyExists, 409},
		{ErrorFailedPrecondition, 400},
		{ErrorOutOfRange, 400},
		{ErrorResourceExhausted, 429},
		{ErrorRateLimited, 429},
		{ErrorCancelled, 499},
		{ErrorDeadlineExceeded, 504},
		{ErrorUnimplemented, 501},
		{ErrorUnavailable, 503},
		{ErrorInternal, 500},
		{ErrorDataLoss, 500},
		{ErrorTooEarly, 425},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, tc.kind.Status(), tc.kind.Title())
	}
}

func TestKindTableTypeURIsAreInjective(t *testing.T) {
	seen := make(map[string]ErrorKind)
	for k := range kindTable {
		uri := k.TypeURI()
		if other, exists := seen[uri]; exists {
			t.Fatalf("type URI %q shared by %v and %v", uri, other, k)
		}
		seen[uri] = k
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrorInternal, "wrapped", cause)
	require.ErrorIs(t, err, cause)
}

func TestAsQuillErrorFallsBackToInternal(t *testing.T) {
	opaque := errors.New("some opaque failure")
	qerr := AsQuillError(opaque)
	require.Equal(t, ErrorInternal, qerr.Kind)
}

func TestAsQuillErrorPassesThroughCanonical(t *testing.T) {
	original := NewError(ErrorNotFound, "missing")
	qerr := AsQuillError(original)
	require.Same(t, original, qerr)
}

func TestErrorStatusOverride(t *testing.T) {
	err := NewError(ErrorFailedPrecondition, "method not allowed").withStatus(405)
	require.Equal(t, 405, err.Status())
}

func TestErrorStatusWithoutOverrideUsesKind(t *testing.T) {
	err := NewError(ErrorNotFound, "")
	require.Equal(t, 404, err.Status())
}
