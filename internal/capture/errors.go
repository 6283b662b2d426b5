package capture

import "errors"

// Typed outcomes of a capture session. Transient and rejected outcomes are
// absorbed by the retry loop; upload and persistence failures are surfaced
// through CommitFailed events and, when they persist, from Run.
var (
	// ErrTransientCapture indicates a camera or network hiccup; retried silently.
	ErrTransientCapture = errors.New("transient capture failure")

	// ErrVerificationRejected indicates a valid negative verdict.
	ErrVerificationRejected = errors.New("verification rejected")

	// ErrUpload indicates the accepted frame could not be stored.
	ErrUpload = errors.New("upload failed")

	// ErrPersistence indicates the record write for an accepted frame failed.
	ErrPersistence = errors.New("record write failed")

	// ErrVerifierUnavailable indicates the verifier failed in a way retrying
	// will not fix, such as rejected credentials or an exhausted quota.
	ErrVerifierUnavailable = errors.New("verifier unavailable")

	// ErrClosed indicates the session was torn down before it finished.
	ErrClosed = errors.New("session closed")

	// ErrAlreadyStarted indicates Run was called twice on one session.
	ErrAlreadyStarted = errors.New("session already started")
)
