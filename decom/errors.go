package decom

import (
	"context"
	"errors"
	"slices"

	"github.com/aws/smithy-go"
)

var (
	// ErrEmptyFilter is returned when listing is attempted without any
	// filter, which would scan every instance in the region
	ErrEmptyFilter = errors.New("at least one instance filter is required")

	// ErrProtectionsDeclined is returned when the operator refuses to have
	// protections disabled. Nothing has been modified when this is returned
	ErrProtectionsDeclined = errors.New("operator declined to disable instance protections")

	// ErrProtectionsRemain is returned in strict mode when some instances
	// are still protected after the protections were cleared
	ErrProtectionsRemain = errors.New("some instances are still protected after clearing protections")
)

// Error codes that EC2 uses for throttling and short-lived capacity or
// service problems
var transientCodes = []string{
	"RequestLimitExceeded",
	"Throttling",
	"ThrottlingException",
	"InsufficientInstanceCapacity",
	"ServiceUnavailable",
	"Unavailable",
	"InternalError",
	"InternalFailure",
	"ConcurrentTagAccess",
	"IncorrectInstanceState",
}

// IsTransient reports whether an error returned by EC2 is one that is
// expected to go away on a retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if slices.Contains(transientCodes, apiErr.ErrorCode()) {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	// Anything that didn't come back as an API error is a transport problem
	return true
}
