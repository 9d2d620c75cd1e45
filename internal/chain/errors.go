package chain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNodeUnavailable marks transport or connection failures talking to the node.
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrSubmissionRejected marks a transaction the node refused.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrConfirmationTimeout marks an inclusion wait that ran past its bound.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// SubmissionRejectedError carries the node's reason for refusing a transaction.
type SubmissionRejectedError struct {
	Reason string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSubmissionRejected, e.Reason)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return ErrSubmissionRejected
}

func Rejected(format string, args ...any) error {
	return &SubmissionRejectedError{Reason: fmt.Sprintf(format, args...)}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNodeUnavailable, err)
}

// AsUnavailable classifies err from a node read as ErrNodeUnavailable unless it
// already carries a classification or is a context error.
func AsUnavailable(op string, err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrNodeUnavailable),
		errors.Is(err, ErrSubmissionRejected),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return unavailable(op, err)
}
