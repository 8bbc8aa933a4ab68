package tcp

import (
	"testing"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/internal/assert"
)

func TestTransmitDataLengthIsSumOfFragments(t *testing.T) {
	tests := []struct {
		scenario string
		bufs     [][]byte
	}{
		{
			scenario: "a single fragment",
			bufs:     [][]byte{make([]byte, 42)},
		},
		{
			scenario: "several fragments of different sizes",
			bufs:     [][]byte{make([]byte, 1), make([]byte, 100), make([]byte, 7)},
		},
		{
			scenario: "fragments including empty regions",
			bufs:     [][]byte{nil, make([]byte, 16), {}},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			td, err := NewTransmitData(true, false, test.bufs...)
			assert.OK(t, err)

			assert.Equal(t, td.FragmentCount(), uint32(len(test.bufs)))

			total := uint32(0)
			for i := range test.bufs {
				f := td.Fragment(i)
				assert.Equal(t, f.Length, uint32(len(test.bufs[i])))
				total += f.Length
			}
			assert.Equal(t, td.DataLength, total)
		})
	}
}

func TestReceiveDataLengthIsSumOfFragments(t *testing.T) {
	bufs := [][]byte{make([]byte, 3), make([]byte, 5)}
	rd, err := NewReceiveData(false, bufs...)
	assert.OK(t, err)
	assert.Equal(t, rd.FragmentCount(), uint32(2))
	assert.Equal(t, rd.DataLength, uint32(8))
}

func TestEmptyFragmentListIsRejected(t *testing.T) {
	_, err := NewTransmitData(true, false)
	assert.Error(t, err, efi.ErrInvalidInput)

	_, err = NewReceiveData(false)
	assert.Error(t, err, efi.ErrInvalidInput)
}

func TestFragmentIndexIsChecked(t *testing.T) {
	td, err := NewTransmitData(true, false, make([]byte, 8))
	assert.OK(t, err)

	defer func() {
		assert.True(t, recover() != nil, "out-of-range fragment access must panic")
	}()
	td.Fragment(1)
}

func TestFragmentsReferenceCallerRegions(t *testing.T) {
	buf := []byte{1, 2, 3}
	td, err := NewTransmitData(true, false, buf)
	assert.OK(t, err)

	buf[0] = 9
	assert.Equal(t, td.Fragment(0).Data[0], byte(9))
}
