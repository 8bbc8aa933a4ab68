// Package pipe provides anonymous byte channels installed as firmware
// protocols. A channel is the pipe analogue of a stream socket: an
// unrelated execution context that only knows the channel's handle can
// open the installed protocol and read, write, or size it. Channels are
// the transport behind child-process stdio redirection.
package pipe

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/efibridge/efibridge/efi"
)

// ProtocolGuid identifies the installable byte-channel protocol.
var ProtocolGuid = efi.MustGuid("3c4acb49-fb4c-45fb-93e4-635d71484c0f")

// Protocol is the byte-channel capability installed on a channel
// handle. Calls never block: reads drain what is buffered, writes
// always accept the full buffer.
type Protocol interface {
	// Read drains up to len(p) buffered bytes into p and returns the
	// number of bytes produced.
	Read(p []byte) (int, efi.Status)

	// Write appends p and returns the number of bytes accepted.
	Write(p []byte) (int, efi.Status)

	// Size returns the number of bytes currently buffered.
	Size() int
}

// Channel is a byte channel addressed by its installed protocol
// handle. The protocol is re-resolved on every operation, so a Channel
// value stays valid across the lifetime of the handle without holding a
// protocol interface that could go stale.
type Channel struct {
	sys    *efi.System
	handle efi.Handle
	owned  bool
	closed bool
}

// NewNull installs a discarding channel: writes succeed immediately and
// report the full length written, reads report zero bytes available.
func NewNull(sys *efi.System) (*Channel, error) {
	return install(sys, nullProtocol{})
}

// NewBuffered installs a channel backed by a growable byte queue.
// Writers never wait: the queue is unbounded, a deliberate
// simplification for an environment with no competing processes beyond
// the channel's two ends.
func NewBuffered(sys *efi.System) (*Channel, error) {
	return install(sys, &bufferedProtocol{chunks: queue.New()})
}

func install(sys *efi.System, proto Protocol) (*Channel, error) {
	handle, status := sys.Boot().InstallProtocol(ProtocolGuid, proto)
	if err := status.Err(); err != nil {
		return nil, err
	}
	return &Channel{sys: sys, handle: handle, owned: true}, nil
}

// Open wraps an existing channel handle, typically received from
// another execution context through the stdio redirection convention.
// The returned channel does not own the handle and its Close is a
// no-op.
func Open(sys *efi.System, handle efi.Handle) *Channel {
	return &Channel{sys: sys, handle: handle}
}

// Handle returns the installed protocol handle of the channel.
func (c *Channel) Handle() efi.Handle { return c.handle }

func (c *Channel) protocol() (Protocol, error) {
	return efi.Open[Protocol](c.sys.Boot(), c.handle, ProtocolGuid)
}

// Read drains up to len(p) bytes and returns the number of bytes
// produced. Zero means the channel is currently empty, not
// end-of-stream.
func (c *Channel) Read(p []byte) (int, error) {
	proto, err := c.protocol()
	if err != nil {
		return 0, err
	}
	n, status := proto.Read(p)
	if err := status.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// Write appends p and returns the number of bytes accepted.
func (c *Channel) Write(p []byte) (int, error) {
	proto, err := c.protocol()
	if err != nil {
		return 0, err
	}
	n, status := proto.Write(p)
	if err := status.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// Size returns the number of bytes currently buffered in the channel.
func (c *Channel) Size() (int, error) {
	proto, err := c.protocol()
	if err != nil {
		return 0, err
	}
	return proto.Size(), nil
}

// ReadToEnd drains the entire current content of the channel in one
// call, appending it to dst. The destination grows to the reported size
// before the drain.
func (c *Channel) ReadToEnd(dst []byte) ([]byte, error) {
	proto, err := c.protocol()
	if err != nil {
		return dst, err
	}
	size := proto.Size()
	if size == 0 {
		return dst, nil
	}
	off := len(dst)
	dst = append(dst, make([]byte, size)...)
	n, status := proto.Read(dst[off:])
	if err := status.Err(); err != nil {
		return dst[:off], err
	}
	return dst[:off+n], nil
}

// Close uninstalls the channel protocol if this Channel installed it.
// Close is idempotent.
func (c *Channel) Close() error {
	if !c.owned || c.closed {
		return nil
	}
	c.closed = true
	return c.sys.Boot().UninstallProtocol(c.handle, ProtocolGuid).Err()
}

// nullProtocol discards writes and has nothing to read.
type nullProtocol struct{}

func (nullProtocol) Read(p []byte) (int, efi.Status)  { return 0, efi.Success }
func (nullProtocol) Write(p []byte) (int, efi.Status) { return len(p), efi.Success }
func (nullProtocol) Size() int                        { return 0 }

// bufferedProtocol holds written bytes as a queue of copied chunks,
// with the front chunk possibly partially consumed.
type bufferedProtocol struct {
	mu     sync.Mutex
	chunks *queue.Queue
	head   []byte
	size   int
}

func (b *bufferedProtocol) Read(p []byte) (int, efi.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(p) {
		if len(b.head) == 0 {
			if b.chunks.Length() == 0 {
				break
			}
			b.head = b.chunks.Remove().([]byte)
		}
		k := copy(p[n:], b.head)
		b.head = b.head[k:]
		n += k
	}
	b.size -= n
	return n, efi.Success
}

func (b *bufferedProtocol) Write(p []byte) (int, efi.Status) {
	if len(p) == 0 {
		return 0, efi.Success
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks.Add(append([]byte(nil), p...))
	b.size += len(p)
	return len(p), efi.Success
}

func (b *bufferedProtocol) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
