package service

import "errors"

// Token verification failures. Each one is a distinct condition so the HTTP
// boundary can map it; none of them is retried.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrAudienceMismatch = errors.New("token audience mismatch")
	ErrRevoked          = errors.New("token revoked")
)

var (
	// ErrStoreUnavailable means the revocation store could not answer. Callers
	// must fail closed.
	ErrStoreUnavailable = errors.New("revocation store unavailable")
	// ErrLogoutFailed is the only error Revoke ever returns.
	ErrLogoutFailed = errors.New("logout failed")
)

// Identity source failures.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidCode        = errors.New("invalid or expired login code")
	ErrIdentityProvider   = errors.New("identity provider rejected the request")
)

// ErrCodeDeliveryDisabled is returned by the code sender when no delivery is configured.
var ErrCodeDeliveryDisabled = errors.New("login code delivery disabled")

var tokenErrors = []error{
	ErrMalformed,
	ErrSignatureInvalid,
	ErrExpired,
	ErrWrongTokenType,
	ErrIssuerMismatch,
	ErrAudienceMismatch,
	ErrRevoked,
}

// IsInvalidToken reports whether err is one of the token verification failures.
func IsInvalidToken(err error) bool {
	for _, target := range tokenErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
