package accounts

import "errors"

// Sentinel errors returned across the engine boundary. Transport bindings
// are expected to branch on these with errors.Is; everything else wrapped
// around them is context for logs.
var (
	// ErrUserNotFound is returned when no user matches the given id, email,
	// username, or service lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrIncorrectPassword is returned when the password does not match the
	// stored credential. Terminal; retrying with the same input cannot
	// succeed.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrEmailNotFound is returned when the address is not attached to the
	// user.
	ErrEmailNotFound = errors.New("email not found")
	// ErrServiceNotFound is returned when an authentication service name is
	// not registered, or a required service record is absent on the user.
	ErrServiceNotFound = errors.New("service not found")
	// ErrTokenInvalid is returned for tampered, malformed, mistyped, or
	// already-rotated tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for a well-formed, correctly signed token
	// past its expiry. The caller should re-authenticate (access) or has
	// waited too long (reset/verification).
	ErrTokenExpired = errors.New("token expired")
	// ErrSessionInvalidated is returned when the session referenced by an
	// otherwise valid token has been logged out or administratively revoked.
	ErrSessionInvalidated = errors.New("session invalidated")
	// ErrUnauthorized is returned when a policy hook rejects the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserDeactivated is returned when the target account is deactivated.
	ErrUserDeactivated = errors.New("user deactivated")
	// ErrInvalidInput is returned for malformed operation parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailAlreadyExists is returned by CreateUser when the email is
	// taken.
	ErrEmailAlreadyExists = errors.New("email already exists")
	// ErrUsernameAlreadyExists is returned by CreateUser when the username
	// is taken.
	ErrUsernameAlreadyExists = errors.New("username already exists")
	// ErrStoreUnavailable wraps storage backend failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)
