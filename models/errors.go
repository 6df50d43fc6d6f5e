package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindVersionConflict ErrorKind = "version_conflict"
	KindFatal           ErrorKind = "fatal"
)

var (
	ErrTransient       = errors.New("transient failure")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrFatal           = errors.New("fatal failure")
)

const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeOutlineCountMismatch  = "OUTLINE_SLIDE_COUNT_MISMATCH"
	CodeUpstreamMalformed     = "UPSTREAM_MALFORMED"
	CodeGenerationFailed      = "GENERATION_FAILED"
	CodeGenerationTimeout     = "GENERATION_TIMEOUT"
	CodeRetriesExhausted      = "RETRIES_EXHAUSTED"
	CodeCompileFailed         = "COMPILE_FAILED"
	CodeUnknownMessageType    = "UNKNOWN_MESSAGE_TYPE"
	CodeTaskNotFound          = "TASK_NOT_FOUND"
	CodeSlideOutOfRange       = "SLIDE_OUT_OF_RANGE"
	CodeContentEmpty          = "CONTENT_EMPTY"
	CodeContentTooLarge       = "CONTENT_TOO_LARGE"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeTaskAlreadyTerminated = "TASK_ALREADY_TERMINATED"
)

// Error is the classified error carried across component boundaries. Code is
// stable and machine readable; Message is meant for people.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrVersionConflict:
		return e.Kind == KindVersionConflict
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

func NewError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func ValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// CodeOf returns the stable code of a classified error, or fallback.
func CodeOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return fallback
}
