package domain

import (
	"errors"
	"fmt"
)

// ErrDatasetNotFound is returned when no cache exists for a requested dataset.
var ErrDatasetNotFound = errors.New("dataset not found")

// FormatError reports a source that is not a tidal-harmonic mesh dataset.
// It doubles as the negative answer of the dataset validity predicate.
type FormatError struct {
	Source string
	Reason string
	cause  error
}

// NewFormatError builds a FormatError. cause may be nil.
func NewFormatError(source, reason string, cause error) *FormatError {
	return &FormatError{Source: source, Reason: reason, cause: cause}
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: %s: %s", e.Source, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.cause }

// MissingVariableError reports that no variable carries a required standard name.
type MissingVariableError struct {
	Source       string
	StandardName string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable: %s has no variable with standard_name %q", e.Source, e.StandardName)
}

// CacheWriteError reports a cache that could not be created or written.
// Any cache previously at Target is left as it was.
type CacheWriteError struct {
	Target string
	Err    error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write error: %s: %v", e.Target, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// UnsupportedOperationError reports a request this data kind can never serve,
// such as a raster image type or feature info.
type UnsupportedOperationError struct {
	Operation string
	Detail    string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsupported operation: %s", e.Operation)
	}
	return fmt.Sprintf("unsupported operation: %s: %s", e.Operation, e.Detail)
}

// Error kinds reported in build results and used for HTTP status mapping.
const (
	KindFormat          = "format"
	KindMissingVariable = "missing_variable"
	KindCacheWrite      = "cache_write"
	KindUnsupported     = "unsupported"
	KindNotFound        = "not_found"
)

// ErrorKind classifies err into one of the Kind constants, or "" when err is nil
// or of no known kind.
func ErrorKind(err error) string {
	var (
		fe *FormatError
		me *MissingVariableError
		ce *CacheWriteError
		ue *UnsupportedOperationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return KindFormat
	case errors.As(err, &me):
		return KindMissingVariable
	case errors.As(err, &ce):
		return KindCacheWrite
	case errors.As(err, &ue):
		return KindUnsupported
	case errors.Is(err, ErrDatasetNotFound):
		return KindNotFound
	default:
		return ""
	}
}
