// Package efi models the firmware surface that the rest of the module is
// built on: opaque handles, protocol family identifiers, the status code
// space, events, completion tokens, and the boot-time locator.
//
// Pre-boot firmware exposes platform services as tables of functions
// installed on handles and identified by 128-bit GUIDs. The BootServices
// interface is the Go rendering of that contract; real platform bindings
// and the in-memory firmware used for testing both implement it.
package efi

// EventType selects the notification behavior of a firmware event.
type EventType uint32

const (
	// EventNotifyWait runs the notify function when the event is checked
	// or waited on.
	EventNotifyWait EventType = 0x00000100
	// EventNotifySignal runs the notify function when the event is
	// signaled.
	EventNotifySignal EventType = 0x00000200
)

// TPL is the task priority level an event notify function runs at.
type TPL uint

const (
	TPLApplication TPL = 4
	TPLCallback    TPL = 8
	TPLNotify      TPL = 16
)

// BootServices is the capability table provided by the firmware. All
// calls are non-blocking except WaitForEvent; asynchronous operations
// take a completion token and report their final status through it.
//
// Protocol interfaces move through OpenProtocol and InstallProtocol as
// untyped values; callers narrow them with Open.
type BootServices interface {
	// CreateEvent allocates a notification primitive. The notify
	// function may be nil.
	CreateEvent(typ EventType, tpl TPL, notify func()) (Handle, Status)

	// SignalEvent puts the event in the signaled state.
	SignalEvent(event Handle) Status

	// WaitForEvent blocks the caller until the event is signaled, then
	// clears the signaled state.
	WaitForEvent(event Handle) Status

	// CloseEvent releases the event. The event must not be referenced by
	// an outstanding operation.
	CloseEvent(event Handle) Status

	// InstallProtocol installs a protocol interface on a freshly
	// allocated handle and returns it.
	InstallProtocol(guid Guid, intf any) (Handle, Status)

	// UninstallProtocol removes a protocol interface from a handle.
	UninstallProtocol(handle Handle, guid Guid) Status

	// OpenProtocol returns the protocol interface of the given family
	// installed on the handle, or Unsupported if the handle does not
	// carry it.
	OpenProtocol(handle Handle, guid Guid) (any, Status)

	// LocateHandles returns every handle carrying the given protocol
	// family, or NotFound if there are none.
	LocateHandles(guid Guid) ([]Handle, Status)
}

// ServiceBinding is the firmware factory capability that creates and
// destroys per-connection child protocol instances under a parent
// handle.
type ServiceBinding interface {
	CreateChild() (Handle, Status)
	DestroyChild(child Handle) Status
}
