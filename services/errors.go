package services

import (
	"errors"
	"fmt"
)

// Kind classifies service failures.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindNoFaceDetected
	KindDuplicateIdentity
	KindIdentityUnknown
	KindClassifierNotReady
	KindLowConfidence
	KindAlreadyMarkedToday
	KindAmbiguousName
	KindStorage
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindInput:              "invalid_input",
	KindNoFaceDetected:     "no_face_detected",
	KindDuplicateIdentity:  "duplicate_identity",
	KindIdentityUnknown:    "identity_unknown",
	KindClassifierNotReady: "classifier_not_ready",
	KindLowConfidence:      "low_confidence",
	KindAlreadyMarkedToday: "already_marked_today",
	KindAmbiguousName:      "ambiguous_name",
	KindStorage:            "storage_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether retrying the same request later may succeed.
func (k Kind) Transient() bool {
	switch k {
	case KindClassifierNotReady, KindStorage, KindInternal:
		return true
	default:
		return false
	}
}

// Error is the error type returned by every service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == "" && t.Err == nil
	}
	return false
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrInput              = &Error{Kind: KindInput}
	ErrNoFaceDetected     = &Error{Kind: KindNoFaceDetected}
	ErrDuplicateIdentity  = &Error{Kind: KindDuplicateIdentity}
	ErrIdentityUnknown    = &Error{Kind: KindIdentityUnknown}
	ErrClassifierNotReady = &Error{Kind: KindClassifierNotReady}
	ErrLowConfidence      = &Error{Kind: KindLowConfidence}
	ErrAlreadyMarkedToday = &Error{Kind: KindAlreadyMarkedToday}
	ErrAmbiguousName      = &Error{Kind: KindAmbiguousName}
	ErrStorage            = &Error{Kind: KindStorage}
	ErrInternal           = &Error{Kind: KindInternal}
)

// KindOf extracts the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
