package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
)

// ErrInvalidRequest matches every client-side request error via errors.Is.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }
func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }
func newInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// writeRequestError reports client mistakes as 400 and everything else as 500.
func writeRequestError(c *echo.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return writeBadRequest(c, err.Error())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}
