package pipe_test

import (
	"testing"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/internal/assert"
	"github.com/efibridge/efibridge/internal/loopback"
	"github.com/efibridge/efibridge/pipe"
)

func newSystem(t *testing.T) *efi.System {
	fw, err := loopback.New(loopback.DefaultConfig())
	assert.OK(t, err)
	return efi.NewSystem(fw)
}

func TestBufferedChannelRoundTrip(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewBuffered(sys)
	assert.OK(t, err)
	defer ch.Close()

	n, err := ch.Write([]byte{1, 2, 3})
	assert.OK(t, err)
	assert.Equal(t, n, 3)

	size, err := ch.Size()
	assert.OK(t, err)
	assert.Equal(t, size, 3)

	data, err := ch.ReadToEnd(nil)
	assert.OK(t, err)
	assert.EqualAll(t, data, []byte{1, 2, 3})

	size, err = ch.Size()
	assert.OK(t, err)
	assert.Equal(t, size, 0)
}

func TestBufferedChannelPartialReads(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewBuffered(sys)
	assert.OK(t, err)
	defer ch.Close()

	for _, chunk := range [][]byte{{1, 2}, {3}, {4, 5, 6}} {
		_, err := ch.Write(chunk)
		assert.OK(t, err)
	}

	buf := make([]byte, 4)
	n, err := ch.Read(buf)
	assert.OK(t, err)
	assert.Equal(t, n, 4)
	assert.EqualAll(t, buf, []byte{1, 2, 3, 4})

	n, err = ch.Read(buf)
	assert.OK(t, err)
	assert.Equal(t, n, 2)
	assert.EqualAll(t, buf[:n], []byte{5, 6})

	n, err = ch.Read(buf)
	assert.OK(t, err)
	assert.Equal(t, n, 0)
}

func TestBufferedChannelCopiesWrites(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewBuffered(sys)
	assert.OK(t, err)
	defer ch.Close()

	buf := []byte{1, 2, 3}
	_, err = ch.Write(buf)
	assert.OK(t, err)
	buf[0] = 9

	data, err := ch.ReadToEnd(nil)
	assert.OK(t, err)
	assert.EqualAll(t, data, []byte{1, 2, 3})
}

func TestNullChannel(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewNull(sys)
	assert.OK(t, err)
	defer ch.Close()

	n, err := ch.Write([]byte("dropped"))
	assert.OK(t, err)
	assert.Equal(t, n, 7)

	size, err := ch.Size()
	assert.OK(t, err)
	assert.Equal(t, size, 0)

	n, err = ch.Read(make([]byte, 8))
	assert.OK(t, err)
	assert.Equal(t, n, 0)
}

func TestOpenSharesChannelByHandle(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewBuffered(sys)
	assert.OK(t, err)
	defer ch.Close()

	// Another execution context that only knows the handle.
	peer := pipe.Open(sys, ch.Handle())
	_, err = peer.Write([]byte("hello"))
	assert.OK(t, err)

	data, err := ch.ReadToEnd(nil)
	assert.OK(t, err)
	assert.EqualAll(t, data, []byte("hello"))

	// A non-owning channel never uninstalls the protocol.
	assert.OK(t, peer.Close())
	_, err = ch.Write([]byte("still alive"))
	assert.OK(t, err)
}

func TestCloseUninstallsChannel(t *testing.T) {
	sys := newSystem(t)

	ch, err := pipe.NewBuffered(sys)
	assert.OK(t, err)

	assert.OK(t, ch.Close())
	assert.OK(t, ch.Close())

	_, err = ch.Write([]byte{1})
	assert.True(t, err != nil, "a closed channel must reject writes")
}
