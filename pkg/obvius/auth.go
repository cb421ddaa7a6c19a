package obvius

import (
	"crypto/subtle"

	"github.com/odvcencio/obvius/pkg/errors"
)

// AuthOutcome is the result of checking a request's shared secret.
type AuthOutcome int

const (
	AuthMissing AuthOutcome = iota
	AuthInvalid
	AuthValid
)

func (a AuthOutcome) String() string {
	switch a {
	case AuthMissing:
		return "missing"
	case AuthInvalid:
		return "invalid"
	case AuthValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Authenticate checks the password parameter against the configured secret.
// An empty password is treated the same as an absent one.
func Authenticate(params Params, secret string) AuthOutcome {
	password, ok := params.Get("password")
	if !ok || password == "" {
		return AuthMissing
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(secret)) != 1 {
		return AuthInvalid
	}
	return AuthValid
}

// Err converts a non-valid outcome into its protocol failure.
func (a AuthOutcome) Err() error {
	switch a {
	case AuthValid:
		return nil
	case AuthInvalid:
		return protocolFailure(errors.ErrCodeAuthInvalid, "shared secret mismatch", reasonPasswordInvalid)
	default:
		return protocolFailure(errors.ErrCodeAuthMissing, "password parameter absent", reasonPasswordMissing)
	}
}
