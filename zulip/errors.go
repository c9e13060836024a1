package zulip

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnauthorized is returned when the realm rejects the bot credentials.
var ErrUnauthorized = errors.New("zulip: unauthorized")

// ErrMalformedResponse is returned when a response body is not the JSON we expect.
var ErrMalformedResponse = errors.New("zulip: malformed response")

// APIError is a response whose result field was not "success".
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip api error %d %s: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("zulip api error %d: %s", e.Status, e.Msg)
}

// IsBadEventQueue reports whether err means the event queue no longer exists
// on the server (it expired or the server restarted).
func IsBadEventQueue(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "BAD_EVENT_QUEUE_ID"
}

// ErrorClass groups failures by how a polling loop should react.
type ErrorClass int

const (
	// ClassTransient covers network failures and timeouts.
	ClassTransient ErrorClass = iota
	// ClassProtocol covers malformed or error-flagged API responses.
	ClassProtocol
	// ClassAuth covers rejected credentials.
	ClassAuth
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ClassTransient:
		return "transient"
	case ClassProtocol:
		return "protocol"
	case ClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify sorts err into an ErrorClass. Unknown errors count as transient.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrUnauthorized) {
		return ClassAuth
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 401 || apiErr.Code == "UNAUTHORIZED" || apiErr.Code == "INVALID_API_KEY" {
			return ClassAuth
		}
		return ClassProtocol
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ClassProtocol
	}
	return ClassTransient
}
