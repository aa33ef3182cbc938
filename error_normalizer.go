package authsession

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// NormalizedError is the uniform failure shape surfaced by every Machine
// operation. Status is zero when the failure carried no backend status.
type NormalizedError struct {
	Message string
	Status  int
	Kind    ErrorKind
	Code    string
	Cause   error
}

func (e *NormalizedError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *NormalizedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HasStatus reports whether the backend supplied a status code
func (e *NormalizedError) HasStatus() bool {
	return e != nil && e.Status != 0
}

// StatusCoder is implemented by collaborator errors that expose an
// HTTP-like status code without using go-errors.
type StatusCoder interface {
	StatusCode() int
}

// NormalizeError maps an arbitrary failure into a NormalizedError. Structured
// backend failures keep their status, code and message; anything else gets
// the fallback message and no status. A nil err yields nil.
func NormalizeError(err error, fallback string) *NormalizedError {
	if err == nil {
		return nil
	}

	var prior *NormalizedError
	if errors.As(err, &prior) && prior != nil {
		out := *prior
		if out.Message == "" {
			out.Message = fallbackMessage(fallback, err)
		}
		return &out
	}

	out := &NormalizedError{
		Message: fallbackMessage(fallback, err),
		Kind:    KindUnknown,
		Cause:   err,
	}

	var rich *goerrors.Error
	var coder StatusCoder
	switch {
	case goerrors.As(err, &rich) && rich != nil:
		out.Code = rich.TextCode
		out.Status = rich.Code
		if (rich.Code != 0 || rich.TextCode != "") && rich.Message != "" {
			out.Message = rich.Message
		}
		out.Kind = kindFromStatus(rich.Code)
		if out.Kind == KindUnknown {
			out.Kind = kindFromCategory(rich.Category)
		}
	case errors.As(err, &coder) && coder != nil:
		out.Status = coder.StatusCode()
		out.Kind = kindFromStatus(out.Status)
		if out.Status != 0 && err.Error() != "" {
			out.Message = err.Error()
		}
	}

	if out.Kind == KindUnknown && isTransportFailure(err) {
		out.Kind = KindTransient
	}

	return out
}

func fallbackMessage(fallback string, err error) string {
	if fallback != "" {
		return fallback
	}
	return err.Error()
}

func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthorizationDenied
	case status >= 400 && status < 500:
		return KindValidation
	case status >= 500 && status < 600:
		return KindTransient
	default:
		return KindUnknown
	}
}

func kindFromCategory(category goerrors.Category) ErrorKind {
	switch category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return KindAuthorizationDenied
	case goerrors.CategoryValidation, goerrors.CategoryBadInput,
		goerrors.CategoryNotFound, goerrors.CategoryConflict, goerrors.CategoryRateLimit:
		return KindValidation
	case goerrors.CategoryOperation:
		return KindTransient
	default:
		return KindUnknown
	}
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
