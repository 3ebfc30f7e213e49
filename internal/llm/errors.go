// Package llm implements the analysis client: it turns a batch of session
// events into a structured summary plus observations, and extracts ranked
// keywords for the query engine.
//
// Every failure mode maps to one of three error kinds. Callers treat any
// error as "analysis unavailable" and continue; nothing in this package is
// allowed to take down the worker or a hook.
package llm

import "fmt"

// ConfigurationError reports a bad or missing endpoint or credential
// setup. It short-circuits analysis without a network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "llm configuration: " + e.Reason
}

// TransportError reports a network-level failure: connection refused, DNS
// failure, timeout, or a non-success HTTP status.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a response that was not in the expected structured
// shape. Never retried.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "llm parse: " + e.Reason
}

// retryableError marks transport failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}
