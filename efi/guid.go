package efi

import "github.com/google/uuid"

// Guid identifies a firmware protocol family. The textual form is the
// canonical UUID form used by configuration files and diagnostics.
type Guid [16]byte

// ParseGuid parses the canonical textual form of a protocol family
// identifier.
func ParseGuid(s string) (Guid, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Guid{}, err
	}
	return Guid(u), nil
}

// MustGuid is like ParseGuid but panics on malformed input. It is meant
// for package-level identifier constants.
func MustGuid(s string) Guid {
	return Guid(uuid.MustParse(s))
}

func (g Guid) String() string { return uuid.UUID(g).String() }

func (g Guid) IsZero() bool { return g == Guid{} }
