// Package apierr defines the error-kind taxonomy shared by the HTTP surface
// and the command dispatcher, so a handler can map any returned error to
// the right status code with a single errors.Is chain.
package apierr

import "errors"

// Kind sentinels. Wrap one of these with fmt.Errorf("...: %w", Kind) at the
// point an error is detected; callers compare with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrLeaderUnknown    = errors.New("leader unknown")
	ErrEngineFailure    = errors.New("engine failure")
	ErrConsensusTimeout = errors.New("consensus timeout")
	ErrStorageFailure   = errors.New("storage failure")
)

// StatusCode returns the HTTP status that corresponds to the most specific
// sentinel wrapped in err, or 500 if none match.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrLeaderUnknown):
		return 421
	case errors.Is(err, ErrConsensusTimeout):
		return 500
	case errors.Is(err, ErrStorageFailure):
		return 500
	default:
		return 500
	}
}
