package dispatch

import "errors"

// Sentinel kinds for dispatch errors. All are contained per
// (event, subscriber); none aborts a monitoring cycle.
var (
	// ErrDeliveryFailed means the retry budget for one delivery was
	// exhausted. The failure is recorded and not re-attempted later.
	ErrDeliveryFailed = errors.New("delivery failed after retries")
)
