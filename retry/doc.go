// Package retry decides whether a failed tenant attempt runs again.
//
// A handler reports failure by returning an error. Errors built with
// Failure or Wrap carry a Kind, a short tag such as "timeout" or
// "http_5xx". A Classifier maps kinds to Retryable or NonRetryable, with an
// explicit Default for kinds it has no rule for. A Policy bounds the number
// of attempts and shapes the backoff between them. Decide combines the two
// and is the only place retry decisions are made; it holds no state.
package retry
