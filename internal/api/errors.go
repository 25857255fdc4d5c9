package api

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	codeAuthRequired = "AUTH_REQUIRED"
	codeAuthFailed   = "AUTH_FAILED"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// HandshakeError rejects a websocket upgrade before any connection state
// exists.
type HandshakeError struct {
	Error string `json:"error"`
}

func newApiError(status int) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    strings.ToLower(http.StatusText(status)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

// NewValidationError is a bad request naming the offending input.
func NewValidationError(err error) *ApiError {
	e := newApiError(http.StatusBadRequest)
	e.Message = fmt.Sprintf("%s: %s", e.Message, err.Error())
	e.Err = err
	return e
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable)
	e.Err = err
	return e
}
