package services

import "errors"

// Failure taxonomy returned by the account service. Handlers map these to
// status codes; nothing below the HTTP boundary knows about status codes.
var (
	// ErrValidation covers malformed input (email shape, password policy).
	ErrValidation = errors.New("validation failed")

	// ErrConflict covers uniqueness violations: email, username, Discord
	// id, or nation already taken.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredentials is returned on any login failure. Unknown
	// identifier, password-less account, and hash mismatch are deliberately
	// indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound is returned when the referenced user or nation does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrExternalAuth is returned when the nation directory rejects the
	// supplied API key.
	ErrExternalAuth = errors.New("external authentication failed")
)
