// Package tokens issues and verifies the signed access/refresh token pairs
// minted by the accounts engine.
//
// Both tokens are JWTs carrying the user id, session id, and a type claim so
// one can never be replayed as the other. Access tokens are short-lived
// (minutes); refresh tokens longer-lived (days). Verification is stateless:
// signature and expiry only. Whether the referenced session is still alive is
// the engine's job, checked against the session store at refresh time.
//
// Expired and otherwise-invalid tokens fail with distinct errors
// ([ErrExpired] vs [ErrInvalid]) so callers can tell "refresh me" apart from
// "re-authenticate".
package tokens
