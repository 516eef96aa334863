package postgres

import "time"

// nowUTC centralizes the one stdlib time source this package needs, so
// tests can't accidentally depend on wall-clock skew across statements
// within a single repository call.
func nowUTC() time.Time {
	return time.Now().UTC()
}
