// Package apperr defines the sentinel errors shared across Ansuz.
package apperr

import "errors"

var (
	// ErrValidation marks input rejected before any remote call (e.g. empty tags).
	ErrValidation = errors.New("validation failed")
	// ErrDeviceUnavailable means audio capture could not acquire the input device.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrAuthRejected means the credential was refused; callers must re-authenticate.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrRegistrationRejected carries the server-supplied reason, e.g. a
	// duplicate identity.
	ErrRegistrationRejected = errors.New("registration rejected")
	// ErrUnreachable is a transport failure; local state is unchanged and a
	// manual retry is safe.
	ErrUnreachable = errors.New("store unreachable")
	// ErrNotFound means the referenced note vanished server-side.
	ErrNotFound = errors.New("not found")
	// ErrTranscriptionFailed means the remote could not produce text; retryable.
	ErrTranscriptionFailed = errors.New("transcription failed")
)
