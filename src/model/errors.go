package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide between retry, skip and abort.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration_error"
	KindValidation       ErrorKind = "validation_rejected"
	KindExchangeRejected ErrorKind = "exchange_rejected"
	KindNetwork          ErrorKind = "network_error"
	KindPartialFailure   ErrorKind = "partial_failure"
	KindFatal            ErrorKind = "fatal"
)

// Error is the error type returned across the strategy engine.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrExchangeRejected = &Error{Kind: KindExchangeRejected}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrPartialFailure   = &Error{Kind: KindPartialFailure}
	ErrFatal            = &Error{Kind: KindFatal}
)

// Gateway level conditions.
var (
	ErrAlreadyFilled     = errors.New("order already filled")
	ErrOrderNotFound     = errors.New("order not found")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrRateLimited       = errors.New("rate limited by exchange")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

func ConfigError(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Rejected(op, reason string) error {
	return &Error{Kind: KindValidation, Op: op, Reason: reason}
}

func ExchangeRejected(op, reason string, err error) error {
	return &Error{Kind: KindExchangeRejected, Op: op, Reason: reason, Err: err}
}

func NetworkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func PartialFailure(op, reason string, err error) error {
	return &Error{Kind: KindPartialFailure, Op: op, Reason: reason, Err: err}
}

func Fatal(op, reason string) error {
	return &Error{Kind: KindFatal, Op: op, Reason: reason}
}

// KindOf classifies any error. Unknown errors and invalid transitions count as fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindNetwork
	case errors.Is(err, ErrSymbolNotFound):
		return KindValidation
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrAlreadyFilled):
		return KindExchangeRejected
	}
	return KindFatal
}

// IsUserError reports errors raised before any exchange call was made.
func IsUserError(err error) bool {
	k := KindOf(err)
	return k == KindConfiguration || k == KindValidation
}
