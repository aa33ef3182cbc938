package authsession

import (
	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the closed classification of collaborator failures. It is
// computed once by NormalizeError and never re-derived deeper in the Machine.
type ErrorKind string

const (
	// KindNone means no error is recorded
	KindNone ErrorKind = ""
	// KindValidation is input rejected by the backend (4xx other than 401/403)
	KindValidation ErrorKind = "validation"
	// KindAuthorizationDenied is a missing, expired or invalid token (401/403)
	KindAuthorizationDenied ErrorKind = "authorization_denied"
	// KindTransient is a network failure, timeout or 5xx. Retry is left to the user.
	KindTransient ErrorKind = "transient"
	// KindUnknown is anything we could not classify
	KindUnknown ErrorKind = "unknown"
)

func (k ErrorKind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

const (
	TextCodeMissingToken      = "AUTH_SESSION_MISSING_TOKEN"
	TextCodeNotAuthorized     = "AUTH_SESSION_NOT_AUTHORIZED"
	TextCodeSessionSuperseded = "AUTH_SESSION_SUPERSEDED"
	TextCodeInvalidConfig     = "AUTH_SESSION_INVALID_CONFIG"
	TextCodeTransport         = "AUTH_SESSION_TRANSPORT"
	TextCodeInvalidRequest    = "AUTH_SESSION_INVALID_REQUEST"
)

// ErrMissingToken is returned when a verification succeeded but neither the
// response nor the token store holds a bearer token.
var ErrMissingToken = goerrors.New("verification returned no access token", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotAuthorized is returned by operations that need an authorized session.
// It is a local precondition failure, not a token rejection, so it never
// normalizes to KindAuthorizationDenied.
var ErrNotAuthorized = goerrors.New("session is not authorized", goerrors.CategoryBadInput).
	WithTextCode(TextCodeNotAuthorized)

// ErrSessionSuperseded is returned when an operation completed after the
// session it started in was torn down. Its result was discarded.
var ErrSessionSuperseded = goerrors.New("session ended while the request was in flight", goerrors.CategoryOperation).
	WithTextCode(TextCodeSessionSuperseded)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = goerrors.New("invalid session configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// IsAuthorizationDenied reports whether err normalizes to KindAuthorizationDenied
func IsAuthorizationDenied(err error) bool {
	if err == nil {
		return false
	}
	return NormalizeError(err, "").Kind == KindAuthorizationDenied
}

// IsTransient reports whether err normalizes to KindTransient
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return NormalizeError(err, "").Kind == KindTransient
}
