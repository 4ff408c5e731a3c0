package record

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrExists        = errors.New("record already exists")
	ErrConflict      = errors.New("record version conflict")
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidFilter = errors.New("invalid filter")
)

// WriteError reports that the store rejected a write.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write failed (%s): %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports that the store could not serve a read. Poll-style
// callers degrade to an empty result instead of returning it.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store read failed (%s): %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
