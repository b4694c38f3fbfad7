package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Category is the coarse classification retry policies are written against
type Category string

const (
	CategoryUnknown          Category = "unknown"
	CategoryValidation       Category = "validation"
	CategoryDependencyCycle  Category = "dependency_cycle"
	CategoryResourceConflict Category = "resource_conflict"
	CategoryExecution        Category = "execution"
	CategoryTimeout          Category = "timeout"
	CategoryRetryExhausted   Category = "retry_exhausted"
	CategoryCancelled        Category = "cancelled"
	CategoryNotFound         Category = "not_found"
	CategoryPermission       Category = "permission"
	CategoryIO               Category = "io"
	CategoryTransientIO      Category = "transient_io"
	CategoryConnection       Category = "connection"
	CategoryContainer        Category = "container"
)

var codeCategories = map[ErrorCode]Category{
	ErrValidation:       CategoryValidation,
	ErrDependencyCycle:  CategoryDependencyCycle,
	ErrResourceConflict: CategoryResourceConflict,
	ErrExecution:        CategoryExecution,
	ErrTimeout:          CategoryTimeout,
	ErrRetryExhausted:   CategoryRetryExhausted,
	ErrCancelled:        CategoryCancelled,
	ErrNotFound:         CategoryNotFound,
	ErrPermission:       CategoryPermission,
	ErrIO:               CategoryIO,
	ErrTransientIO:      CategoryTransientIO,
	ErrConnection:       CategoryConnection,
	ErrContainer:        CategoryContainer,
}

// ParseCategory validates a category name coming from configuration
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if c == CategoryUnknown {
		return c, nil
	}
	for _, known := range codeCategories {
		if known == c {
			return c, nil
		}
	}
	return "", Validationf("parse category", "unknown error category %q", s)
}

// CategoryOf classifies err. Coded errors win; otherwise well-known
// stdlib and syscall errors are mapped. Anything else is unknown.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	// Specific causes below a generic execution wrapper are more useful
	// to a classifier, so look through ErrExecution/ErrUnknown first.
	code := GetCode(err)
	if code != ErrUnknown && code != ErrExecution {
		return codeCategories[code]
	}

	if c := stdlibCategory(err); c != CategoryUnknown {
		return c
	}
	if code == ErrExecution {
		return CategoryExecution
	}
	return CategoryUnknown
}

func stdlibCategory(err error) Category {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, os.ErrNotExist):
		return CategoryNotFound
	case errors.Is(err, os.ErrPermission):
		return CategoryPermission
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EINTR), errors.Is(err, syscall.ETXTBSY):
		return CategoryTransientIO
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return CategoryConnection
	}

	// syscall.Errno satisfies net.Error; errnos not listed above stay unknown.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return CategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnection
	}
	return CategoryUnknown
}

// FromOS wraps an os/syscall error with the matching code
func FromOS(op string, err error) error {
	if err == nil {
		return nil
	}
	code := ErrIO
	switch stdlibCategory(err) {
	case CategoryNotFound:
		code = ErrNotFound
	case CategoryPermission:
		code = ErrPermission
	case CategoryTransientIO:
		code = ErrTransientIO
	case CategoryTimeout:
		code = ErrTimeout
	case CategoryConnection:
		code = ErrConnection
	}
	return &Error{Code: code, Op: op, Cause: err}
}

// Describe renders "category: message" for reports
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", CategoryOf(err), err)
}
