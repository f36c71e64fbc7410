package bridge

import "errors"

// Bridge error taxonomy. Every failure surfaced before an ownership transfer
// wraps one of these sentinels, so callers can branch with errors.Is and the
// boundary surface can map them onto status codes.
var (
	// ErrAllocationFailure means descriptor or table memory could not be
	// obtained.
	ErrAllocationFailure = errors.New("bridge: descriptor allocation failed")
	// ErrUnsupportedType means a logical type has no representable format
	// tag, or a format tag is not recognized by the importing side.
	ErrUnsupportedType = errors.New("bridge: unsupported type")
	// ErrMalformedDescriptor means declared counts or lengths are internally
	// inconsistent.
	ErrMalformedDescriptor = errors.New("bridge: malformed descriptor")
	// ErrNullPointer means a required descriptor address is missing.
	ErrNullPointer = errors.New("bridge: null descriptor address")
	// ErrTypeMismatch means a capsule's type tag does not match the expected
	// descriptor kind.
	ErrTypeMismatch = errors.New("bridge: type tag mismatch")
	// ErrDoubleRelease is the defensive check for a second release of the
	// same descriptor. The release path itself swallows the second call as a
	// no-op; this sentinel exists for probes that want to report the
	// condition explicitly.
	ErrDoubleRelease = errors.New("bridge: descriptor already released")
)

// Status is the int32 status code exchanged at the pointer-handoff boundary.
// 0 is success, everything else an error class.
type Status int32

const (
	StatusOK                  Status = 0
	StatusUnknown             Status = 1
	StatusAllocationFailure   Status = 2
	StatusUnsupportedType     Status = 3
	StatusMalformedDescriptor Status = 4
	StatusNullPointer         Status = 5
	StatusTypeMismatch        Status = 6
	StatusSizeMismatch        Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAllocationFailure:
		return "allocation failure"
	case StatusUnsupportedType:
		return "unsupported type"
	case StatusMalformedDescriptor:
		return "malformed descriptor"
	case StatusNullPointer:
		return "null pointer"
	case StatusTypeMismatch:
		return "type mismatch"
	case StatusSizeMismatch:
		return "size mismatch"
	default:
		return "unknown error"
	}
}

// StatusFromError maps a bridge error onto its boundary status code.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAllocationFailure):
		return StatusAllocationFailure
	case errors.Is(err, ErrUnsupportedType):
		return StatusUnsupportedType
	case errors.Is(err, ErrMalformedDescriptor):
		return StatusMalformedDescriptor
	case errors.Is(err, ErrNullPointer):
		return StatusNullPointer
	case errors.Is(err, ErrTypeMismatch):
		return StatusTypeMismatch
	default:
		return StatusUnknown
	}
}
