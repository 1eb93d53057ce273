package model

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure to reach the endpoint or read its reply.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("completion transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError reports a non-2xx status from the endpoint.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("completion endpoint status=%d body=%s", e.StatusCode, e.Body)
}

// MalformedResponseError reports a 2xx reply whose shape is unusable.
type MalformedResponseError struct {
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	if e.Body == "" {
		return "malformed completion response: " + e.Reason
	}
	return fmt.Sprintf("malformed completion response: %s body=%s", e.Reason, e.Body)
}

// Error classes returned by Classify.
const (
	ClassTransport = "transport"
	ClassRemote    = "remote"
	ClassMalformed = "malformed"
	ClassUnknown   = "unknown"
)

// Classify maps err onto one of the error classes.
func Classify(err error) string {
	var transportErr *TransportError
	var remoteErr *RemoteError
	var malformedErr *MalformedResponseError
	switch {
	case errors.As(err, &transportErr):
		return ClassTransport
	case errors.As(err, &remoteErr):
		return ClassRemote
	case errors.As(err, &malformedErr):
		return ClassMalformed
	default:
		return ClassUnknown
	}
}
