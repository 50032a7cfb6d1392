package core

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a request carries neither audio nor text.
// No record is created and the store is not touched.
var ErrInvalidInput = errors.New("either an audio recording or text must be provided")

// ErrStorage matches every *StorageError via errors.Is.
var ErrStorage = errors.New("storage failure")

// StorageError reports that the persistence layer failed while the pipeline
// was in Stage.  It is the only server-side failure surfaced to callers.
type StorageError struct {
	Stage Stage
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Stage, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
