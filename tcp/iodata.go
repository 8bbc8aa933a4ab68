package tcp

import (
	"fmt"
	"math"

	"github.com/efibridge/efibridge/efi"
)

// Fragment describes one contiguous memory region of a vectored
// transfer. Length always equals len(Data); the region must remain
// valid and unmoved until the firmware signals completion of the
// operation referencing it.
type Fragment struct {
	Length uint32
	Data   []byte
}

// TransmitData is the variable-length transmit record submitted to the
// firmware: direction flags, total length, and an ordered fragment
// table. It is built once per operation and holds the invariant
// DataLength == sum of fragment lengths until the firmware overwrites
// DataLength with the number of bytes actually sent.
type TransmitData struct {
	Push       bool
	Urgent     bool
	DataLength uint32
	fragments  []Fragment
}

// NewTransmitData builds a transmit record over the given regions. The
// fragment table references the regions, it does not copy the bytes.
func NewTransmitData(push, urgent bool, bufs ...[]byte) (*TransmitData, error) {
	fragments, total, err := buildFragments(bufs)
	if err != nil {
		return nil, err
	}
	return &TransmitData{
		Push:       push,
		Urgent:     urgent,
		DataLength: total,
		fragments:  fragments,
	}, nil
}

// FragmentCount returns the number of entries in the fragment table.
func (td *TransmitData) FragmentCount() uint32 { return uint32(len(td.fragments)) }

// Fragment returns the i-th fragment. The index is checked against the
// fragment count recorded at construction time.
func (td *TransmitData) Fragment(i int) Fragment {
	if i < 0 || i >= len(td.fragments) {
		panic(fmt.Sprintf("tcp: fragment index %d out of range [0,%d)", i, len(td.fragments)))
	}
	return td.fragments[i]
}

// Fragments returns the fragment table. The slice is a view, not a
// copy; the firmware reads it in order.
func (td *TransmitData) Fragments() []Fragment { return td.fragments }

// ReceiveData is the variable-length receive record submitted to the
// firmware. DataLength starts as the total capacity of the fragments
// and is overwritten on completion with the number of bytes actually
// placed into them.
type ReceiveData struct {
	Urgent     bool
	DataLength uint32
	fragments  []Fragment
}

// NewReceiveData builds a receive record over the given regions.
func NewReceiveData(urgent bool, bufs ...[]byte) (*ReceiveData, error) {
	fragments, total, err := buildFragments(bufs)
	if err != nil {
		return nil, err
	}
	return &ReceiveData{
		Urgent:     urgent,
		DataLength: total,
		fragments:  fragments,
	}, nil
}

// FragmentCount returns the number of entries in the fragment table.
func (rd *ReceiveData) FragmentCount() uint32 { return uint32(len(rd.fragments)) }

// Fragment returns the i-th fragment, index-checked.
func (rd *ReceiveData) Fragment(i int) Fragment {
	if i < 0 || i >= len(rd.fragments) {
		panic(fmt.Sprintf("tcp: fragment index %d out of range [0,%d)", i, len(rd.fragments)))
	}
	return rd.fragments[i]
}

// Fragments returns the fragment table as a view.
func (rd *ReceiveData) Fragments() []Fragment { return rd.fragments }

func buildFragments(bufs [][]byte) ([]Fragment, uint32, error) {
	if len(bufs) == 0 {
		return nil, 0, fmt.Errorf("tcp: empty fragment list: %w", efi.ErrInvalidInput)
	}
	fragments := make([]Fragment, len(bufs))
	total := uint64(0)
	for i, b := range bufs {
		total += uint64(len(b))
		if total > math.MaxUint32 {
			return nil, 0, fmt.Errorf("tcp: fragment list of %d bytes cannot be sized: %w", total, efi.ErrOutOfMemory)
		}
		fragments[i] = Fragment{Length: uint32(len(b)), Data: b}
	}
	return fragments, uint32(total), nil
}
