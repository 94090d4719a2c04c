// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Error classes handlers attach with Classified. RespondError turns each into a
// problem response.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflicting state")
)

type errorClass struct {
	err    error
	status int
	title  string
}

var errorClasses = []errorClass{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrDuplicate, http.StatusConflict, "Duplicate"},
	{ErrConflict, http.StatusConflict, "Conflict"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
}

// RespondError writes err as a problem response. Unclassified errors become a
// 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, class := range errorClasses {
		if errors.Is(err, class.err) {
			Problem(w, class.status, class.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// Classified tags err with class. errors.Is matches either.
func Classified(class, err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, cause: err}
}

type classified struct {
	class error
	cause error
}

func (c *classified) Error() string   { return c.cause.Error() }
func (c *classified) Unwrap() []error { return []error{c.class, c.cause} }
