package fetcher

import "time"

// Outcome is the settled result of one Task.
// If Err is not nil, Payload should be considered invalid.
type Outcome struct {
	// Key is the entity the task was about
	Key string

	// Payload is the fetched data
	Payload any

	// Err is the captured failure, including recovered panics
	Err error

	// Elapsed is the wall time the task took, retries included
	Elapsed time.Duration
}

// OK reports whether the task succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}
