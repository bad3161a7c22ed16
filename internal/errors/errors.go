package errors

import (
	"context"
	"errors"
	"fmt"
)

// Basic error check functions from standard library
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// appError implements the Error interface
type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	if e.message == "" {
		e.message = GetErrorMessage(e.code)
	}

	if e.data != nil {
		return fmt.Sprintf("%s: %v", e.message, e.data)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *appError) WithData(data any) Error {
	return &appError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *appError) GetData() any {
	return e.data
}

func (e *appError) Unwrap() error {
	return e.err
}

type defaultFactory struct{}

func (*defaultFactory) New(code ErrorCode) Error {
	return &appError{
		code: code,
	}
}

func (*defaultFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{
		code: code,
		err:  err,
	}
}

func (*defaultFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{
		code:    code,
		message: msg,
	}
}

func (*defaultFactory) WithData(code ErrorCode, data any) Error {
	return &appError{
		code: code,
		data: data,
	}
}

// New creates a Factory instance for error creation
func New() Factory {
	return &defaultFactory{}
}

// CodeOf returns the outermost error code carried by err, or the empty
// code when the chain holds no domain error.
func CodeOf(err error) ErrorCode {
	var domainErr Error
	if As(err, &domainErr) {
		return domainErr.Code()
	}

	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for ; err != nil; err = Unwrap(err) {
		if domainErr, ok := err.(Error); ok && domainErr.Code() == code {
			return true
		}
	}

	return false
}

// IsTimeout reports whether the failure was a bounded-deadline expiry.
// Timeouts are kept distinct from authentication and connectivity
// failures so callers can apply differentiated backoff.
func IsTimeout(err error) bool {
	return HasCode(err, ErrTimeout) || Is(err, context.DeadlineExceeded)
}

// IsConnectivity reports an unreachable-host class failure, including
// timeouts.
func IsConnectivity(err error) bool {
	return HasCode(err, ErrConnectivity) || IsTimeout(err)
}

// IsAuth reports a rejected-credentials class failure.
func IsAuth(err error) bool {
	return HasCode(err, ErrAuth)
}

// IsProtocol reports an unexpected response shape or status code.
func IsProtocol(err error) bool {
	return HasCode(err, ErrProtocol)
}

// IsParse reports a response that was present but not decodable.
func IsParse(err error) bool {
	return HasCode(err, ErrParse)
}

// IsUnsupported reports a capability missing on this vendor or
// firmware generation.
func IsUnsupported(err error) bool {
	return HasCode(err, ErrUnsupported)
}
