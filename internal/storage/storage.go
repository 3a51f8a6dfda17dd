// Package storage defines the capability-scoped destination a job writes
// into, and the resolver that maps manifest paths onto it.
//
// A Provider hands out at most one writable Root per job. Everything written
// through a Root stays below it: directories are created one segment at a
// time and files are written through a Sink that is either committed with
// Close or discarded with Abort.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrDeclined is returned by Provider.Acquire when the user refuses to grant
// a destination. It is not a failure.
var ErrDeclined = errors.New("storage access declined")

// ConfirmFunc is the user-mediated part of acquiring a root.
type ConfirmFunc func(ctx context.Context, destination string) (bool, error)

type Provider interface {
	// Available reports whether the backend can be used at all in this
	// environment. It performs no writes.
	Available() error
	Acquire(ctx context.Context, jobID string) (Root, error)
}

type Dir interface {
	// Path is the slash-separated location relative to the root, "" for the
	// root itself.
	Path() string
	// Child returns the named subdirectory, creating it when missing.
	Child(ctx context.Context, name string) (Dir, error)
	CreateFile(ctx context.Context, name string) (Sink, error)
}

type Root interface {
	Dir
	Name() string
	Close() error
}

// Sink receives one file's bytes. Close commits and releases it, Abort
// discards and releases it. Both are safe to call more than once.
type Sink interface {
	io.Writer
	Close() error
	Abort() error
}

type DirectoryAccessError struct {
	Path    string
	Segment string
	Err     error
}

func (e *DirectoryAccessError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("access directory %q (segment %q): %v", e.Path, e.Segment, e.Err)
	}
	return fmt.Sprintf("access directory %q: %v", e.Path, e.Err)
}

func (e *DirectoryAccessError) Unwrap() error {
	return e.Err
}

func confirmOrDecline(ctx context.Context, confirm ConfirmFunc, destination string) error {
	if confirm == nil {
		return nil
	}
	ok, err := confirm(ctx, destination)
	if err != nil {
		return fmt.Errorf("confirm destination %s: %w", destination, err)
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}
