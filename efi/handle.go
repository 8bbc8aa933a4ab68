package efi

import "fmt"

// Handle is an opaque identity for a firmware-owned object: a protocol
// instance, an event, or a child connection. A handle is never
// dereferenced; it is only passed back into firmware calls as a
// capability token. Each handle has exactly one owner and is released
// exactly once.
type Handle uintptr

// NullHandle is the zero handle. Firmware never returns it on success;
// receiving one where a live handle is expected is a protocol violation.
const NullHandle Handle = 0

func (h Handle) IsNull() bool { return h == NullHandle }

func (h Handle) String() string { return fmt.Sprintf("handle(%#x)", uintptr(h)) }
