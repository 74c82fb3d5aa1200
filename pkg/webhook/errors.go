package webhook

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrorKind is the stable category of a pipeline failure.
type ErrorKind string

const (
	ErrorMalformedEnvelope ErrorKind = "malformed_envelope"
	ErrorValidation        ErrorKind = "validation"
	ErrorHandler           ErrorKind = "handler"
)

// Error is a categorized pipeline failure. Err, when set, is the underlying cause.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Handler string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Kind)
	if e.Handler != "" {
		msg += " " + e.Handler
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the category of err, or "" when err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}
	return ""
}

func malformedError(detail string) error {
	return &Error{Kind: ErrorMalformedEnvelope, Detail: detail}
}

func validationError(field string, value gjson.Result) error {
	return &Error{
		Kind:   ErrorValidation,
		Detail: fmt.Sprintf("%s has unexpected %s value %s", field, jsonTypeName(value), truncate(value.Raw, 64)),
	}
}

func handlerError(name string, err error) error {
	return &Error{Kind: ErrorHandler, Handler: name, Err: err}
}

func jsonTypeName(value gjson.Result) string {
	switch {
	case value.IsObject():
		return "object"
	case value.IsArray():
		return "array"
	}

	switch value.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	default:
		return "null"
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
