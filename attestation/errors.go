package attestation

import (
	"errors"
	"fmt"
)

// Kind is the stable category of an attestation failure.
// Callers branch on Kind, never on the message text.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindGenerationFailed   Kind = "GenerationFailed"
	KindInvalidConfidence  Kind = "InvalidConfidence"
	KindSigningUnavailable Kind = "SigningUnavailable"
	KindLedgerRejected     Kind = "LedgerRejected"
	KindLedgerUnreachable  Kind = "LedgerUnreachable"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageIntake     Stage = "intake"
	StageGeneration Stage = "generation"
	StageSigning    Stage = "signing"
	StageSubmission Stage = "submission"
)

// Class groups kinds by what the caller can do about them.
type Class string

const (
	ClassInvalid   Class = "invalid"   // the input is wrong
	ClassTemporary Class = "temporary" // retry later
	ClassPermanent Class = "permanent" // can never succeed as submitted
)

// Error is the tagged failure returned by every stage of the pipeline.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s failed (%s): %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError builds a tagged error without a cause.
func NewError(kind Kind, stage Stage, msg string) error {
	return &Error{Kind: kind, Stage: stage, Message: msg}
}

// WrapError tags cause with kind and stage.
func WrapError(kind Kind, stage Stage, msg string, cause error) error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of a tagged error, or "" for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// StageOf returns the Stage of a tagged error, or "" for untagged errors.
func StageOf(err error) Stage {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Stage
}

// ClassOf maps an error to the caller-visible class. Untagged errors are
// reported as temporary.
func ClassOf(err error) Class {
	switch KindOf(err) {
	case KindInvalidInput, KindInvalidConfidence:
		return ClassInvalid
	case KindLedgerRejected, KindSigningUnavailable:
		return ClassPermanent
	default:
		return ClassTemporary
	}
}
