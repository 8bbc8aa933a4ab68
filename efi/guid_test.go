package efi

import (
	"testing"

	"github.com/efibridge/efibridge/internal/assert"
)

func TestParseGuidRoundTrip(t *testing.T) {
	const text = "00720665-67eb-4a99-baf7-d3c33a1c7cc9"
	g, err := ParseGuid(text)
	assert.OK(t, err)
	assert.Equal(t, g.String(), text)
	assert.True(t, !g.IsZero(), "parsed identifier must not be zero")
}

func TestParseGuidRejectsMalformedInput(t *testing.T) {
	_, err := ParseGuid("not-a-guid")
	assert.True(t, err != nil, "malformed input must be rejected")
}

func TestMustGuidPanicsOnMalformedInput(t *testing.T) {
	defer func() {
		assert.True(t, recover() != nil, "MustGuid must panic on malformed input")
	}()
	MustGuid("not-a-guid")
}

func TestZeroGuid(t *testing.T) {
	assert.True(t, Guid{}.IsZero(), "zero value must report zero")
}
