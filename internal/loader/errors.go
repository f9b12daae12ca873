package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrMisuse marks programming errors in how the generator is driven.
	ErrMisuse = errors.New("loader: misuse")

	// ErrNotStarted is returned by PopBatch before the first Start.
	ErrNotStarted = fmt.Errorf("%w: generator not started", ErrMisuse)

	// ErrAlreadyRunning is returned by Start while a traversal is in flight.
	ErrAlreadyRunning = fmt.Errorf("%w: generator already running", ErrMisuse)

	// ErrShutdown is returned by operations attempted after Stop was requested.
	ErrShutdown = errors.New("loader: shutdown in progress")

	// ErrSourceRead marks a sample that the source could not produce.
	ErrSourceRead = errors.New("loader: source read failure")
)

// SlotError reports a batch slot that was abandoned because a sample in it
// could not be loaded, even after one retry. It takes the place of the
// slot's batch in the completion queue.
type SlotError struct {
	Slot  int
	Index int
	Err   error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("loader: slot %d: sample %d: %v", e.Slot, e.Index, e.Err)
}

// Unwrap exposes both ErrSourceRead and the underlying source error.
func (e *SlotError) Unwrap() []error { return []error{ErrSourceRead, e.Err} }
