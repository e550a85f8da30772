package hosting

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pkt.systems/gitpilot/schema"
)

// Error wraps a hosting API failure with its classification.
type Error struct {
	Op      string
	Status  int
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "hosting error"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Kind != nil && msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	if e.Kind != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if msg == "" {
		return fmt.Sprintf("%s failed (status %d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the classification sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Classify maps an HTTP status returned by op to a schema sentinel.
// Unclassified failures keep their status and cause but carry no Kind.
func Classify(op string, status int, message string, err error) error {
	var kind error
	switch status {
	case http.StatusUnauthorized:
		kind = schema.ErrAuth
	case http.StatusForbidden:
		kind = schema.ErrForbidden
	case http.StatusNotFound:
		kind = schema.ErrNotFound
	case http.StatusConflict:
		kind = schema.ErrConflict
	case http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(message), "sha") {
			kind = schema.ErrConflict
		}
	}
	if kind == nil && err == nil && status < 400 {
		return nil
	}
	return &Error{Op: op, Status: status, Kind: kind, Message: message, Err: err}
}

// IsAuth reports whether err should tear down the hosting session.
func IsAuth(err error) bool {
	return errors.Is(err, schema.ErrAuth)
}
