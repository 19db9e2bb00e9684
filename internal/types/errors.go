package types

import (
	"errors"
	"fmt"
)

// Status is the closed set of outcomes a volume manager operation can report.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusAlreadyExists
	StatusNotFound
	StatusNoSpace
	StatusOutOfRange
	StatusAlreadyAllocated
	StatusAlreadyBound
	StatusBufferTooSmall
	StatusIOError
	StatusUnrecoverable
	StatusInternal
)

var statusNames = map[Status]string{
	StatusOK:               "OK",
	StatusInvalidArgument:  "INVALID_ARGUMENT",
	StatusAlreadyExists:    "ALREADY_EXISTS",
	StatusNotFound:         "NOT_FOUND",
	StatusNoSpace:          "NO_SPACE",
	StatusOutOfRange:       "OUT_OF_RANGE",
	StatusAlreadyAllocated: "ALREADY_ALLOCATED",
	StatusAlreadyBound:     "ALREADY_BOUND",
	StatusBufferTooSmall:   "BUFFER_TOO_SMALL",
	StatusIOError:          "IO_ERROR",
	StatusUnrecoverable:    "UNRECOVERABLE",
	StatusInternal:         "INTERNAL",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Sentinel errors, one per Status. Match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrNoSpace          = errors.New("no space")
	ErrOutOfRange       = errors.New("out of range")
	ErrAlreadyAllocated = errors.New("already allocated")
	ErrAlreadyBound     = errors.New("already bound")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrIO               = errors.New("i/o error")
	ErrUnrecoverable    = errors.New("metadata unrecoverable")
)

var sentinelStatus = []struct {
	err    error
	status Status
}{
	{ErrInvalidArgument, StatusInvalidArgument},
	{ErrAlreadyExists, StatusAlreadyExists},
	{ErrNotFound, StatusNotFound},
	{ErrNoSpace, StatusNoSpace},
	{ErrOutOfRange, StatusOutOfRange},
	{ErrAlreadyAllocated, StatusAlreadyAllocated},
	{ErrAlreadyBound, StatusAlreadyBound},
	{ErrBufferTooSmall, StatusBufferTooSmall},
	{ErrUnrecoverable, StatusUnrecoverable},
	{ErrIO, StatusIOError},
}

// FVMError carries the failing operation alongside one of the sentinel errors.
type FVMError struct {
	Op     string
	Detail string
	Err    error
}

// NewFVMError builds an FVMError for op wrapping the sentinel err.
func NewFVMError(err error, op string, format string, args ...interface{}) *FVMError {
	return &FVMError{Op: op, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *FVMError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Detail)
}

func (e *FVMError) Unwrap() error {
	return e.Err
}

// StatusOf maps err onto the closed Status taxonomy.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return StatusInternal
}
