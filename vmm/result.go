package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/memutils/partition"
)

// Result is the status of a memory manager operation. Every failed operation returns a Result other
// than Success alongside an error that wraps the Result's sentinel.
type Result int32

const (
	Success Result = iota
	// InvalidArgument indicates a zero, misaligned, or unrecognized input
	InvalidArgument
	// InvalidRange indicates a range that crosses an area boundary or does not match an expected span
	InvalidRange
	// OutOfMemory indicates that no free range could satisfy a request, or that a budget is exhausted
	OutOfMemory
	// NotFound indicates a direct memory query against unallocated memory
	NotFound
	// PermissionDenied indicates a virtual query against free memory
	PermissionDenied
	// OutOfRange indicates an address outside of the governed address space
	OutOfRange
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidRange     = errors.New("invalid range")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrOutOfRange       = errors.New("address out of range")
)

var resultErrors = map[Result]error{
	InvalidArgument:  ErrInvalidArgument,
	InvalidRange:     ErrInvalidRange,
	OutOfMemory:      ErrOutOfMemory,
	NotFound:         ErrNotFound,
	PermissionDenied: ErrPermissionDenied,
	OutOfRange:       ErrOutOfRange,
}

var resultNames = map[Result]string{
	Success:          "Success",
	InvalidArgument:  "InvalidArgument",
	InvalidRange:     "InvalidRange",
	OutOfMemory:      "OutOfMemory",
	NotFound:         "NotFound",
	PermissionDenied: "PermissionDenied",
	OutOfRange:       "OutOfRange",
}

// Error codes reported to the guest for each Result
const (
	OrbisOk     uint32 = 0
	OrbisENOENT uint32 = 0x80020002
	OrbisENOMEM uint32 = 0x8002000C
	OrbisEACCES uint32 = 0x8002000D
	OrbisEFAULT uint32 = 0x8002000E
	OrbisEINVAL uint32 = 0x80020016
)

func (r Result) String() string {
	name, ok := resultNames[r]
	if !ok {
		return "Unknown"
	}
	return name
}

// ToError returns the sentinel error for this Result, or nil for Success
func (r Result) ToError() error {
	if r == Success {
		return nil
	}

	err, ok := resultErrors[r]
	if !ok {
		return errors.Newf("unknown result %d", int32(r))
	}
	return err
}

// OrbisCode returns the guest operating system error code for this Result
func (r Result) OrbisCode() uint32 {
	switch r {
	case Success:
		return OrbisOk
	case InvalidArgument, InvalidRange:
		return OrbisEINVAL
	case OutOfMemory:
		return OrbisENOMEM
	case PermissionDenied:
		return OrbisEACCES
	case NotFound:
		return OrbisENOENT
	case OutOfRange:
		return OrbisEFAULT
	}
	return OrbisEINVAL
}

func fail(r Result, format string, args ...any) (Result, error) {
	return r, errors.Wrapf(r.ToError(), format, args...)
}

// resultOf classifies an error raised below the manager. Host failures have no better classification
// than OutOfMemory, which is what the guest would see from a failed kernel mapping.
func resultOf(err error) Result {
	if err == nil {
		return Success
	}

	switch {
	case errors.Is(err, partition.ErrOutOfRange):
		return OutOfRange
	case errors.Is(err, partition.ErrInvalidRange):
		return InvalidRange
	case errors.Is(err, partition.ErrOutOfMemory):
		return OutOfMemory
	}

	for r, sentinel := range resultErrors {
		if errors.Is(err, sentinel) {
			return r
		}
	}

	return OutOfMemory
}
