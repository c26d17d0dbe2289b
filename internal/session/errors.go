package session

import (
	"fmt"
	"net/http"
)

// TransportError reports a request that kept failing after every retry.
type TransportError struct {
	Op       string
	Key      string
	Offset   int
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s key=%q offset=%d: transport failed after %d attempts: %v",
		e.Op, e.Key, e.Offset, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StallError reports a search that never left the loading state.
type StallError struct {
	Key    string
	Offset int
	Polls  int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("search key=%q offset=%d: still loading after %d polls", e.Key, e.Offset, e.Polls)
}

// ProtocolError reports a response the service should never produce.
type ProtocolError struct {
	Op     string
	Key    string
	Offset int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s key=%q offset=%d: protocol error: %s", e.Op, e.Key, e.Offset, e.Reason)
}

// ParseError reports a response missing a required field.
type ParseError struct {
	Key    string
	Offset int
	Field  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("search key=%q offset=%d: %s not found in response", e.Key, e.Offset, e.Field)
}

// statusError is a non-200 response seen by the retry loop.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}
