package swscore

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies failures surfaced by the pool managers, the HTTP client and the bot.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ConfigurationError means a required configuration value is missing or invalid.
	ConfigurationError
	// ConnectionError means a pool, session or single connection could not be created or reached.
	ConnectionError
	// TimeoutError means a bounded wait expired.
	TimeoutError
	// UpstreamError means the backing store or HTTP endpoint answered with something unusable.
	UpstreamError
	// SerializationError means a stored object could not be encoded or decoded.
	SerializationError
	// PoolTeardownFailure means closing a pool or session failed.
	PoolTeardownFailure
)

func (c ErrorCode) String() string {
	switch c {
	case ConfigurationError:
		return "configuration error"
	case ConnectionError:
		return "connection error"
	case TimeoutError:
		return "timeout error"
	case UpstreamError:
		return "upstream error"
	case SerializationError:
		return "serialization error"
	case PoolTeardownFailure:
		return "pool teardown failure"
	default:
		return "unknown error"
	}
}

// Error is the custom error returned by this module.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData != nil {
		return fmt.Sprintf("%s: %v, user data: %v", e.Code, e.Err, e.UserData)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given code.
func NewError(code ErrorCode, err error, userData any) error {
	return Error{Code: code, Err: err, UserData: userData}
}

// CodeOf returns the ErrorCode carried by err, or Unknown if err is not (or does not wrap) an Error.
// An ErrTimeout anywhere in the chain reports TimeoutError.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	var te ErrTimeout
	if errors.As(err, &te) {
		return TimeoutError
	}
	return Unknown
}

// ErrTimeout is returned when a bounded wait expires.
// Cause carries the context error when the caller's context ended first.
type ErrTimeout struct {
	Name    string
	MaxTime time.Duration
	Cause   error
}

func (e ErrTimeout) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s timed out(maxTime=%v): %v", e.Name, e.MaxTime, e.Cause)
	}
	return fmt.Sprintf("%s timed out(maxTime=%v)", e.Name, e.MaxTime)
}

func (e ErrTimeout) Unwrap() error {
	return e.Cause
}
