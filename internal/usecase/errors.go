package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrStartRejected is returned when a start is already in flight or a
	// session is live. It is logged, never shown to the user.
	ErrStartRejected = errors.New("session start rejected: another start is in flight or a session is live")

	// ErrStartCancelled is returned when Stop raced ahead of a pending start.
	ErrStartCancelled = errors.New("session start cancelled by stop")

	// ErrNotMounted is returned by facade intents after Unmount.
	ErrNotMounted = errors.New("session facade is not mounted")
)

// CredentialError means the backend did not issue a usable token.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransportError means the call could not be opened or dropped unexpectedly.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResourceReleaseError records one failed cleanup step.
type ResourceReleaseError struct {
	Resource string
	Err      error
}

func (e *ResourceReleaseError) Error() string {
	return fmt.Sprintf("release %s: %v", e.Resource, e.Err)
}

func (e *ResourceReleaseError) Unwrap() error { return e.Err }

// BackendError is an error event pushed by the backend during a call.
type BackendError struct {
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code == "" {
		return "backend error: " + e.Message
	}
	return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
}
