package jobs

import (
	"errors"
)

var ErrEmptyManifest = errors.New("nothing to download: manifest has no downloadable items")

// ErrPanic wraps a panic raised by a collaborator while a job was running.
var ErrPanic = errors.New("job panicked")

// PreconditionError is returned before a job touches the network or storage.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}
