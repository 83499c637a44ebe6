package detector

import "time"

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithChangeThreshold sets the minimum |delta|/baseline ratio that makes
// a change alert-worthy.
func WithChangeThreshold(threshold float64) Option {
	return func(d *Detector) {
		if threshold > 0 && threshold < 1 {
			d.threshold = threshold
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}
