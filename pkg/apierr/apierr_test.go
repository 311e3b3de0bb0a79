package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad name: %w", ErrValidation), 400},
		{fmt.Errorf("no token: %w", ErrForbidden), 403},
		{fmt.Errorf("space exists: %w", ErrConflict), 409},
		{fmt.Errorf("space missing: %w", ErrNotFound), 404},
		{fmt.Errorf("not leader: %w", ErrLeaderUnknown), 421},
		{fmt.Errorf("raft: %w", ErrConsensusTimeout), 500},
		{fmt.Errorf("disk: %w", ErrStorageFailure), 500},
		{errors.New("anything else"), 500},
	}
	for _, c := range cases {
		if got := StatusCode(c.err); got != c.want {
			t.Errorf("StatusCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestStatusCodeNestedWrapping(t *testing.T) {
	// Errors are frequently double-wrapped on their way up (storage inside
	// engine inside handler); the sentinel must still be found.
	err := fmt.Errorf("handler: %w", fmt.Errorf("engine: %w: %w", ErrNotFound, errors.New("row missing")))
	if got := StatusCode(err); got != 404 {
		t.Errorf("StatusCode(nested) = %d, want 404", got)
	}
}
