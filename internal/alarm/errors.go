package alarm

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error class.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidTimezone Code = "invalid_timezone"
	CodeInvalidTime     Code = "invalid_time"
	CodeInvalidArgument Code = "invalid_argument"
	CodePersistence     Code = "persistence"
	CodeInvariant       Code = "invariant"
	CodeInternal        Code = "internal"
)

// Error is a typed scheduling error.
//
// Two errors match under errors.Is when their codes are equal, so callers can
// test against the sentinels below regardless of the description.
type Error struct {
	Code        Code
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := "alarm: " + string(e.Code) + ": " + e.Description
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound        = &Error{Code: CodeNotFound, Description: "alarm not found"}
	ErrInvalidTimezone = &Error{Code: CodeInvalidTimezone, Description: "unknown timezone"}
	ErrInvalidTime     = &Error{Code: CodeInvalidTime, Description: "time must be in the future"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Description: "invalid argument"}
	ErrPersistence     = &Error{Code: CodePersistence, Description: "state could not be saved"}
	ErrInvariant       = &Error{Code: CodeInvariant, Description: "invariant violated"}
)

func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

func wrap(code Code, err error, format string, args ...any) error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode returns the code carried by err, or CodeInternal for foreign errors.
func ErrorCode(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

// ErrorDescription returns a user-safe description of err.
func ErrorDescription(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Description != "" {
		return e.Description
	}
	return "internal error"
}
