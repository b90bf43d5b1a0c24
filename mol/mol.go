// Package mol defines the 32-bit typed molecule that fills every cell of
// the environment: a small type tag plus a signed scalar value, packed the
// same way on every platform.
package mol

import "fmt"

// Type is the kind tag carried by the high bits of a Molecule.
type Type uint8

// The four molecule kinds required by the world model. CODE with a zero
// value denotes empty space.
const (
	CODE Type = iota
	DATA
	ENERGY
	STRUCTURE
)

var typeNames = []string{"CODE", "DATA", "ENERGY", "STRUCTURE"}

// Name returns the molecule type's display name.
func (t Type) Name() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TYPE%d", t)
}

const (
	// typeBits is the width of the type tag. 3 bits covers the four
	// required kinds with room to grow.
	typeBits = 3
	valueBits = 32 - typeBits
	valueSignBit = int32(1) << (valueBits - 1)
	valueMask    = int32(1)<<valueBits - 1
)

// Molecule is a packed 32-bit world atom: a Type tag plus a signed scalar.
type Molecule int32

// Empty is the CODE:0 molecule denoting empty space.
const Empty Molecule = 0

// New packs a type and signed value into a Molecule. The value is truncated
// to fit the available bits; encoding is total for any int32 input.
func New(t Type, value int32) Molecule {
	raw := (int32(t) << valueBits) | (value & valueMask)
	return Molecule(raw)
}

// Type decodes the molecule's type tag.
func (m Molecule) Type() Type {
	return Type(uint32(m) >> valueBits & ((1 << typeBits) - 1))
}

// Value decodes the molecule's signed scalar, sign-extending from
// valueBits.
func (m Molecule) Value() int32 {
	v := int32(m) & valueMask
	if v&valueSignBit != 0 {
		v |= ^valueMask
	}
	return v
}

// IsEmpty reports whether the molecule is CODE:0, the sentinel for an
// unoccupied cell.
func (m Molecule) IsEmpty() bool {
	return m == Empty
}

// String renders the molecule the way the indexer renders register and
// stack slots: "<TYPE>:<value>".
func (m Molecule) String() string {
	return fmt.Sprintf("%s:%d", m.Type().Name(), m.Value())
}
