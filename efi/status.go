package efi

import (
	"errors"
	"fmt"
)

// Status is a firmware status code. Zero is success; codes with the
// high bit set are errors. The code space is fixed by the firmware
// interface and must match it bit-exact.
type Status uint64

// ErrorBit marks a status code as an error.
const ErrorBit Status = 1 << 63

const Success Status = 0

const (
	LoadError           = ErrorBit | 1
	InvalidParameter    = ErrorBit | 2
	Unsupported         = ErrorBit | 3
	BadBufferSize       = ErrorBit | 4
	BufferTooSmall      = ErrorBit | 5
	NotReady            = ErrorBit | 6
	DeviceError         = ErrorBit | 7
	WriteProtected      = ErrorBit | 8
	OutOfResources      = ErrorBit | 9
	VolumeCorrupted     = ErrorBit | 10
	VolumeFull          = ErrorBit | 11
	NoMedia             = ErrorBit | 12
	MediaChanged        = ErrorBit | 13
	NotFound            = ErrorBit | 14
	AccessDenied        = ErrorBit | 15
	NoResponse          = ErrorBit | 16
	NoMapping           = ErrorBit | 17
	Timeout             = ErrorBit | 18
	NotStarted          = ErrorBit | 19
	AlreadyStarted      = ErrorBit | 20
	Aborted             = ErrorBit | 21
	IcmpError           = ErrorBit | 22
	TftpError           = ErrorBit | 23
	ProtocolError       = ErrorBit | 24
	IncompatibleVersion = ErrorBit | 25
	SecurityViolation   = ErrorBit | 26
	CrcError            = ErrorBit | 27
	EndOfMedia          = ErrorBit | 28
	EndOfFile           = ErrorBit | 31
	InvalidLanguage     = ErrorBit | 32
	CompromisedData     = ErrorBit | 33

	NetworkUnreachable  = ErrorBit | 100
	HostUnreachable     = ErrorBit | 101
	ProtocolUnreachable = ErrorBit | 102
	PortUnreachable     = ErrorBit | 103
	ConnectionFin       = ErrorBit | 104
	ConnectionReset     = ErrorBit | 105
	ConnectionRefused   = ErrorBit | 106
)

// IsError reports whether the status code carries the error bit.
func (s Status) IsError() bool { return s&ErrorBit != 0 }

// Code returns the numeric value of the status with the error bit
// stripped.
func (s Status) Code() uint64 { return uint64(s &^ ErrorBit) }

// Generic error kinds. Every firmware status code funnels into one of
// these through Status.Err; codes with no close match keep their raw
// value and match none of the sentinels.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrUnsupported      = errors.New("unsupported")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

var statusDescriptions = map[Status]string{
	LoadError:           "the image failed to load",
	InvalidParameter:    "a parameter was incorrect",
	Unsupported:         "the operation is not supported",
	BadBufferSize:       "the buffer was not the proper size for the request",
	BufferTooSmall:      "the buffer is not large enough to hold the requested data",
	NotReady:            "there is no data pending upon return",
	DeviceError:         "the physical device reported an error",
	WriteProtected:      "the device cannot be written to",
	OutOfResources:      "a resource has run out",
	VolumeCorrupted:     "an inconsistency was detected on the file system",
	VolumeFull:          "there is no more space on the file system",
	NoMedia:             "the device does not contain any medium",
	MediaChanged:        "the medium in the device has changed",
	NotFound:            "the item was not found",
	AccessDenied:        "access was denied",
	NoResponse:          "the server was not found or did not respond",
	NoMapping:           "a mapping to a device does not exist",
	Timeout:             "the timeout time expired",
	NotStarted:          "the protocol has not been started",
	AlreadyStarted:      "the protocol has already been started",
	Aborted:             "the operation was aborted",
	IcmpError:           "an ICMP error occurred during the network operation",
	TftpError:           "a TFTP error occurred during the network operation",
	ProtocolError:       "a protocol error occurred during the network operation",
	IncompatibleVersion: "the function encountered an internal version that was incompatible with the requested version",
	SecurityViolation:   "the function was not performed due to a security violation",
	CrcError:            "a CRC error was detected",
	EndOfMedia:          "the beginning or end of media was reached",
	EndOfFile:           "the end of the file was reached",
	InvalidLanguage:     "the language specified was invalid",
	CompromisedData:     "the security status of the data is unknown or compromised",
	NetworkUnreachable:  "the network is unreachable",
	HostUnreachable:     "the host is unreachable",
	ProtocolUnreachable: "the protocol is unreachable",
	PortUnreachable:     "the port is unreachable",
	ConnectionFin:       "the connection was closed by the remote end",
	ConnectionReset:     "the connection was reset by the remote end",
	ConnectionRefused:   "the connection was refused by the remote end",
}

// Description returns a human readable description of the status code.
func (s Status) Description() string {
	if s == Success {
		return "success"
	}
	if desc, ok := statusDescriptions[s]; ok {
		return desc
	}
	return fmt.Sprintf("unknown status %#x", uint64(s))
}

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return fmt.Sprintf("status(%#x)", uint64(s))
}

// kind maps a status code to the generic error kind it is closest to,
// or nil for codes that translate to the catch-all kind.
func (s Status) kind() error {
	switch s {
	case InvalidParameter, BadBufferSize, BufferTooSmall:
		return ErrInvalidInput
	case OutOfResources, VolumeFull:
		return ErrOutOfMemory
	case Unsupported, IncompatibleVersion:
		return ErrUnsupported
	case AccessDenied, SecurityViolation, WriteProtected:
		return ErrPermissionDenied
	case NotFound, NoMedia, NoMapping:
		return ErrNotFound
	default:
		return nil
	}
}

// Err translates the status into an error. Success translates to nil;
// every other code yields a *StatusError carrying both the generic kind
// and the original code.
func (s Status) Err() error {
	if !s.IsError() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError is a firmware status code presented as an error. It
// matches the generic kind sentinels through errors.Is and preserves
// the raw code for diagnostics.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	if kind := e.Status.kind(); kind != nil {
		return fmt.Sprintf("%s: %s (%s)", kind, e.Status.Description(), e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Status.Description(), e.Status)
}

func (e *StatusError) Is(target error) bool {
	kind := e.Status.kind()
	return kind != nil && target == kind
}
