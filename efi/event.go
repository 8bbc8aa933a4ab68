package efi

// Event owns one firmware notification primitive. It is the blocking
// half of every asynchronous firmware operation: the caller submits a
// token carrying the event handle, then calls Wait to block until the
// firmware signals completion.
//
// An Event must not be closed while an operation referencing it is
// still outstanding; callers always reach Wait after issuing the
// operation, then close. Waiting on a closed event is a programming
// error and panics.
type Event struct {
	boot   BootServices
	handle Handle
	closed bool
}

// NewEvent allocates a firmware event. It fails with ErrOutOfMemory if
// the firmware cannot allocate the primitive.
func NewEvent(boot BootServices, typ EventType, tpl TPL, notify func()) (*Event, error) {
	h, status := boot.CreateEvent(typ, tpl, notify)
	if err := status.Err(); err != nil {
		return nil, err
	}
	return &Event{boot: boot, handle: h}, nil
}

// Handle returns the firmware handle of the event, to be embedded in
// completion tokens.
func (e *Event) Handle() Handle { return e.handle }

// Wait blocks the calling execution context until the event is
// signaled. An error from Wait reports a failure of the wait primitive
// itself; the outcome of the operation that signaled the event is read
// separately from its completion token.
func (e *Event) Wait() error {
	if e.closed {
		panic("efi: wait on closed event")
	}
	return e.boot.WaitForEvent(e.handle).Err()
}

// Close releases the firmware primitive. Close is idempotent.
func (e *Event) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.boot.CloseEvent(e.handle).Err()
}

// CompletionToken pairs an event with a status cell. The firmware
// writes the cell exactly once, with the final status of the submitted
// operation, before signaling the event; the caller never reads the
// cell before the wait returns.
//
// A token's scope is exactly one operation. Tokens are freshly built
// per call and never pooled, so a caller can never observe a stale
// status.
type CompletionToken struct {
	Event  Handle
	Status Status
}

// NewCompletionToken builds a token for one operation, with the status
// cell initialized to the Aborted sentinel.
func NewCompletionToken(e *Event) CompletionToken {
	return CompletionToken{Event: e.Handle(), Status: Aborted}
}
