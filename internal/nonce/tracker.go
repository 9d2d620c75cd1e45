package nonce

import (
	"errors"
)

var (
	ErrNotInitialized     = errors.New("nonce tracker not initialized")
	ErrAlreadyInitialized = errors.New("nonce tracker already initialized")
)

// Tracker hands out consecutive nonces for one account. It advances as soon as
// a nonce is taken and never rolls back, so a refused submission leaves a gap
// that the node will report on the next dispatch.
type Tracker struct {
	next        uint64
	initialized bool
}

// Initialize sets the starting nonce, normally the node's pending nonce.
func (t *Tracker) Initialize(value uint64) error {
	if t.initialized {
		return ErrAlreadyInitialized
	}
	t.next = value
	t.initialized = true
	return nil
}

// Next returns the nonce for the upcoming submission and advances by one.
func (t *Tracker) Next() (uint64, error) {
	if !t.initialized {
		return 0, ErrNotInitialized
	}
	n := t.next
	t.next++
	return n, nil
}

// Peek returns the nonce the next call to Next will hand out.
func (t *Tracker) Peek() uint64 {
	return t.next
}
