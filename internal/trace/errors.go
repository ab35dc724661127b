package trace

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrUnknownDigest: a span references a digest with no stored artifact.
	ErrUnknownDigest = errors.New("unknown artifact digest")

	// ErrUnknownOrder: an external span names neither a known order nor a
	// known incident.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidSpan: an external span is structurally invalid.
	ErrInvalidSpan = errors.New("invalid span")
)

// ErrorCode categorizes span recording errors.
type ErrorCode string

const (
	ErrCodeUnknownDigest ErrorCode = "UNKNOWN_DIGEST"
	ErrCodeUnknownOrder  ErrorCode = "UNKNOWN_ORDER"
	ErrCodeInvalidSpan   ErrorCode = "INVALID_SPAN"
	ErrCodeSerialization ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeStorage       ErrorCode = "STORAGE_FAILED"
)

// Error describes why a span was not recorded. No partial span exists when
// Emit or Append returns one.
type Error struct {
	Code    ErrorCode
	Message string

	// Tool is the span's tool id, when known.
	Tool string

	// Key names the missing digest, order or incident.
	Key string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Tool != "" {
		msg += fmt.Sprintf(" (tool=%s)", e.Tool)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the matching sentinel and the cause.
func (e *Error) Unwrap() []error {
	var errs []error
	switch e.Code {
	case ErrCodeUnknownDigest:
		errs = append(errs, ErrUnknownDigest)
	case ErrCodeUnknownOrder:
		errs = append(errs, ErrUnknownOrder)
	case ErrCodeInvalidSpan:
		errs = append(errs, ErrInvalidSpan)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsClientError reports whether err stems from bad caller input
// (referential or structural) rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownDigest) || errors.Is(err, ErrUnknownOrder) || errors.Is(err, ErrInvalidSpan)
}

func unknownDigest(tool, role, digest string) *Error {
	return &Error{
		Code:    ErrCodeUnknownDigest,
		Message: role + " digest is not a stored artifact",
		Tool:    tool,
		Key:     digest,
	}
}
