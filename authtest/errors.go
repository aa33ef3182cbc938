package authtest

import (
	"errors"
	"fmt"
	"net"

	goerrors "github.com/goliatone/go-errors"
)

// HTTPError builds the error a backend adapter produces for a non-2xx
// response: a go-errors value whose Code is the status.
func HTTPError(status int, message string) error {
	category := goerrors.CategoryValidation
	switch {
	case status == 401:
		category = goerrors.CategoryAuth
	case status == 403:
		category = goerrors.CategoryAuthz
	case status >= 500:
		category = goerrors.CategoryOperation
	}
	return goerrors.New(message, category).
		WithCode(status).
		WithTextCode(fmt.Sprintf("HTTP_%d", status))
}

// Unauthorized is a 401 with an expired-token message
func Unauthorized() error {
	return HTTPError(401, "Token has expired")
}

// NetworkError is a transport failure with no status
func NetworkError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}
