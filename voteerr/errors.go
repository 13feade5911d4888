// Package voteerr defines the failure taxonomy shared by every component of
// the voting client. Each error returned across a component boundary carries
// exactly one Kind so callers can render a specific message.
package voteerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidIdentity    Kind = "invalid_identity"
	KindSdkUnavailable     Kind = "sdk_unavailable"
	KindUnauthorized       Kind = "unauthorized"
	KindAlreadyVoted       Kind = "already_voted"
	KindAlreadyInProgress  Kind = "already_in_progress"
	KindSignatureRejected  Kind = "signature_rejected"
	KindDecryptionMismatch Kind = "decryption_mismatch"
	KindTransportFailure   Kind = "transport_failure"
	KindProposalNotFound   Kind = "proposal_not_found"
	KindProposalClosed     Kind = "proposal_closed"
	KindInvalidArgument    Kind = "invalid_argument"
	KindUnknown            Kind = "unknown"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrInvalidIdentity    = &Error{Kind: KindInvalidIdentity}
	ErrSdkUnavailable     = &Error{Kind: KindSdkUnavailable}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrAlreadyVoted       = &Error{Kind: KindAlreadyVoted}
	ErrAlreadyInProgress  = &Error{Kind: KindAlreadyInProgress}
	ErrSignatureRejected  = &Error{Kind: KindSignatureRejected}
	ErrDecryptionMismatch = &Error{Kind: KindDecryptionMismatch}
	ErrTransportFailure   = &Error{Kind: KindTransportFailure}
	ErrProposalNotFound   = &Error{Kind: KindProposalNotFound}
	ErrProposalClosed     = &Error{Kind: KindProposalClosed}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
)

// Error is a classified failure. Step names the operation that failed, e.g.
// "encrypt", "sign" or "user-decrypt".
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func New(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func Newf(kind Kind, step string, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Step != "" {
		msg += " (" + e.Step + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost classified error in the chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StepOf returns the failing step of a classified error.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}

// Classify leaves already classified errors alone and wraps anything else as
// kind.
func Classify(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(kind, step, err)
}
