package retry

import "time"

// Decision is the outcome of a failed attempt.
type Decision struct {
	// Retry is true when another attempt should run after Delay.
	Retry bool

	// Exhausted is true when the failure was retryable but the attempt
	// budget is spent.
	Exhausted bool

	Kind  Kind
	Class Class
	Delay time.Duration
}

// Decide classifies err from attempt (1-indexed) and returns what to do
// next. A nil classifier retries everything.
func Decide(p Policy, c *Classifier, attempt int, err error) Decision {
	kind := KindOf(err)
	d := Decision{Kind: kind, Class: c.Classify(kind)}

	if d.Class == NonRetryable {
		return d
	}
	if attempt >= p.MaxAttempts {
		d.Exhausted = true
		return d
	}

	d.Retry = true
	d.Delay = p.Delay(attempt)
	return d
}
