package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	ErrorInvalidName      = "invalid_name"
	ErrorOutsideArchive   = "outside_archive"
	ErrorPermissionDenied = "permission_denied"
	ErrorTooLarge         = "too_large"
	ErrorIO               = "io_error"
)

// Error is a categorized archive failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermissionDenied
	}

	return ErrorIO
}

// normalizeIOError converts OS-level errors into category errors without leaking paths.
func normalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if category == ErrorPermissionDenied {
		return NewError(category, "operation not permitted")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return NewError(category, detail+": "+pathErr.Err.Error())
	}

	return NewError(category, detail)
}
