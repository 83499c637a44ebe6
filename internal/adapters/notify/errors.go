package notify

import "errors"

// Sentinel kinds for outbound channel errors. All are transient from the
// dispatcher's point of view and retried within the attempt budget.
var (
	// ErrChannelUnavailable means the gateway could not be reached or
	// answered with a server error.
	ErrChannelUnavailable = errors.New("notification channel unavailable")

	// ErrRateLimited means the gateway rejected the send for throttling.
	ErrRateLimited = errors.New("notification channel rate limited")
)
