package token

import "errors"

// Verification failures. All of them are user-correctable (expired or tampered link,
// wrong account) and must never surface as server errors.
var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrExpired        = errors.New("token expired")
	ErrActionMismatch = errors.New("token action mismatch")
)

// Issuance and construction errors.
var (
	ErrMissingSecret = errors.New("signing secret is required")
	ErrInvalidTTL    = errors.New("ttl must be positive")
	ErrInvalidAction = errors.New("action must be non-empty and not a time claim")
	ErrReservedClaim = errors.New("extra claim overrides a reserved claim")
)

// IsInvalidLink reports whether err means the token could not be trusted at all
// (malformed or bad signature). Both map to the same user message.
func IsInvalidLink(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrBadSignature)
}

// IsVerificationError reports whether err is one of the expected verification failures.
func IsVerificationError(err error) bool {
	return IsInvalidLink(err) || errors.Is(err, ErrExpired) || errors.Is(err, ErrActionMismatch)
}
