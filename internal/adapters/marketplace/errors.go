package marketplace

import "errors"

// Sentinel kinds for adapter errors. All of them are contained per
// (product, marketplace); none aborts a monitoring cycle.
var (
	// ErrNotLinked means the tracked product has no external id for the
	// requested marketplace.
	ErrNotLinked = errors.New("product not linked to marketplace")

	// ErrTimeout means the per-call fetch budget elapsed.
	ErrTimeout = errors.New("marketplace fetch timed out")

	// ErrUpstream means the marketplace answered with a 4xx/5xx.
	ErrUpstream = errors.New("marketplace upstream error")

	// ErrMalformed means the response could not be normalized,
	// e.g. a missing price field.
	ErrMalformed = errors.New("malformed marketplace response")
)

// FailureReason maps an adapter error to a stable metrics label.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotLinked):
		return "not_linked"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
