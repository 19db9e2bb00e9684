package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/deploymenttheory/go-fvm/internal/types"
)

// PartitionTarget represents partition selection across commands
type PartitionTarget struct {
	Index    uint64
	Instance string
	Name     string
}

// Validate ensures exactly one selector is set and that an instance GUID parses
func (pt *PartitionTarget) Validate() error {
	set := 0
	if pt.Index != 0 {
		set++
	}
	if pt.Instance != "" {
		set++
		if _, err := types.ParseGUID(pt.Instance); err != nil {
			return NewError(ErrCodeInvalidInput, "bad --instance", err)
		}
	}
	if pt.Name != "" {
		set++
	}
	switch {
	case set == 0:
		return NewError(ErrCodeInvalidInput, "one of --index, --instance or --name is required", nil)
	case set > 1:
		return NewError(ErrCodeInvalidInput, "only one of --index, --instance or --name may be given", nil)
	}
	return nil
}

// IsEmpty returns true if no partition selector is given
func (pt *PartitionTarget) IsEmpty() bool {
	return pt.Index == 0 && pt.Instance == "" && pt.Name == ""
}

// Matches reports whether the partition described by info is the one selected
func (pt *PartitionTarget) Matches(info types.PartitionInfo) bool {
	switch {
	case pt.Index != 0:
		return info.Index == pt.Index
	case pt.Instance != "":
		g, err := types.ParseGUID(pt.Instance)
		return err == nil && info.Instance == g
	case pt.Name != "":
		return info.Name == pt.Name
	}
	return false
}

// String returns a string representation of the partition target
func (pt *PartitionTarget) String() string {
	switch {
	case pt.Index != 0:
		return fmt.Sprintf("Partition index: %d", pt.Index)
	case pt.Instance != "":
		return "Partition instance: " + pt.Instance
	case pt.Name != "":
		return "Partition: " + pt.Name
	}
	return "No partition"
}

// ProgressUpdate represents progress information
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// Rate calculates bytes per second
func (p *ProgressUpdate) Rate() float64 {
	if p.ElapsedTime == 0 {
		return 0
	}
	return float64(p.Completed) / p.ElapsedTime.Seconds()
}

// ETA estimates time to completion
func (p *ProgressUpdate) ETA() time.Duration {
	if p.Completed == 0 || p.Total == 0 {
		return 0
	}
	rate := p.Rate()
	if rate == 0 {
		return 0
	}
	remaining := p.Total - p.Completed
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeVolumeAccess      = "VOLUME_ACCESS"
	ErrCodePartitionNotFound = "PARTITION_NOT_FOUND"
	ErrCodeCheckFailed       = "CHECK_FAILED"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ExitCode maps err onto a process exit status. Volume manager failures exit with their
// Status; application errors without a volume manager cause use the closest Status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if s := types.StatusOf(err); s != types.StatusInternal {
		return int(s)
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		switch ce.Code {
		case ErrCodeInvalidInput:
			return int(types.StatusInvalidArgument)
		case ErrCodePartitionNotFound:
			return int(types.StatusNotFound)
		case ErrCodeVolumeAccess:
			return int(types.StatusIOError)
		case ErrCodeCheckFailed:
			return int(types.StatusUnrecoverable)
		}
	}
	return int(types.StatusInternal)
}
