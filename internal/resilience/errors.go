package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Error classes recorded alongside failed units of work.
const (
	ClassTransient = "transient"
	ClassPermanent = "permanent"
	ClassFatal     = "fatal"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// FatalError marks an application-level fault reported by an upstream
// source. A run that sees one stops instead of moving on to the next unit.
type FatalError struct {
	Source string
	Err    error
}

func (e *FatalError) Error() string {
	return e.Source + ": fatal upstream fault: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as a fatal fault raised by source.
func NewFatalError(source string, err error) *FatalError {
	return &FatalError{Source: source, Err: err}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient returns true if the error chain holds a TransientError or
// matches a common network failure (timeouts, resets, DNS). Fatal faults
// are never transient, even when they wrap one.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// HTTP clients often flatten the cause into the message.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyError returns ClassFatal, ClassTransient or ClassPermanent.
func ClassifyError(err error) string {
	switch {
	case IsFatal(err):
		return ClassFatal
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}
