// Package conv implements the SOVD conversion engine: a declarative DID
// (Data Identifier) codec that maps raw byte payloads to/from structured
// JSON values (spec.md §4.3).
package conv

import "fmt"

// DataType is the primitive wire type of a DID's raw bytes.
type DataType string

const (
	TypeU8     DataType = "u8"
	TypeU16    DataType = "u16"
	TypeU32    DataType = "u32"
	TypeI8     DataType = "i8"
	TypeI16    DataType = "i16"
	TypeI32    DataType = "i32"
	TypeF32    DataType = "f32"
	TypeF64    DataType = "f64"
	TypeString DataType = "string"
	TypeBytes  DataType = "bytes"
)

// ByteWidth returns the number of bytes a single scalar value of this type
// occupies on the wire. String/bytes have no fixed width here; callers
// must consult the definition's configured length instead.
func (t DataType) ByteWidth() (int, error) {
	switch t {
	case TypeU8, TypeI8:
		return 1, nil
	case TypeU16, TypeI16:
		return 2, nil
	case TypeU32, TypeI32, TypeF32:
		return 4, nil
	case TypeF64:
		return 8, nil
	default:
		return 0, fmt.Errorf("conv: type %q has no fixed scalar width", t)
	}
}

// IsInteger reports whether the type decodes to an integer raw value.
func (t DataType) IsInteger() bool {
	switch t {
	case TypeU8, TypeU16, TypeU32, TypeI8, TypeI16, TypeI32:
		return true
	default:
		return false
	}
}

// IsSigned reports whether the integer type is signed.
func (t DataType) IsSigned() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32:
		return true
	default:
		return false
	}
}

// ByteOrder controls how multi-byte scalars are packed/unpacked.
type ByteOrder string

const (
	BigEndian    ByteOrder = "big"
	LittleEndian ByteOrder = "little"
)

// ShapeKind distinguishes the three payload layouts a DID can take.
type ShapeKind string

const (
	ShapeScalar ShapeKind = "scalar"
	ShapeArray  ShapeKind = "array"
	ShapeMatrix ShapeKind = "matrix"
)

// Shape describes how many scalar elements a DID's payload carries and how
// they are laid out.
type Shape struct {
	Kind ShapeKind
	Len  int // ShapeArray: element count
	Rows int // ShapeMatrix
	Cols int // ShapeMatrix
}

// ScalarShape is the shape most DIDs use.
func ScalarShape() Shape { return Shape{Kind: ShapeScalar} }

// ArrayShape builds an array shape of n elements.
func ArrayShape(n int) Shape { return Shape{Kind: ShapeArray, Len: n} }

// MatrixShape builds a rows x cols matrix shape.
func MatrixShape(rows, cols int) Shape { return Shape{Kind: ShapeMatrix, Rows: rows, Cols: cols} }

// ElementCount returns the total number of scalar elements in the shape.
func (s Shape) ElementCount() int {
	switch s.Kind {
	case ShapeScalar:
		return 1
	case ShapeArray:
		return s.Len
	case ShapeMatrix:
		return s.Rows * s.Cols
	default:
		return 0
	}
}

// Axis describes one axis of a 2-D map (spec.md §3 DID definition).
type Axis struct {
	Name        string
	Unit        string
	Breakpoints []float64
	Labels      []string
}

// EnumEntry is one raw-value-to-label mapping.
type EnumEntry struct {
	Raw   int64
	Label string
}

// EnumTable maps raw integer values to labels, preserving declaration order
// for deterministic iteration in tests and docs.
type EnumTable []EnumEntry

// Lookup returns the label for raw, and whether it was found.
func (t EnumTable) Lookup(raw int64) (string, bool) {
	for _, e := range t {
		if e.Raw == raw {
			return e.Label, true
		}
	}
	return "", false
}

// ReverseLookup returns the raw value for a label, and whether it was found.
func (t EnumTable) ReverseLookup(label string) (int64, bool) {
	for _, e := range t {
		if e.Label == label {
			return e.Raw, true
		}
	}
	return 0, false
}

// BitField describes one named sub-range of a bitfield DID.
type BitField struct {
	Name     string
	StartBit int // 0 = least-significant bit
	Width    int
	Enum     EnumTable // optional, only meaningful when Width > 1
}

// Extract pulls this field's value out of a raw integer.
func (b BitField) Extract(raw uint64) uint64 {
	mask := uint64(1)<<uint(b.Width) - 1
	return (raw >> uint(b.StartBit)) & mask
}

// Pack writes value into its bit range of raw, returning the updated raw.
func (b BitField) Pack(raw uint64, value uint64) uint64 {
	mask := uint64(1)<<uint(b.Width) - 1
	raw &^= mask << uint(b.StartBit)
	raw |= (value & mask) << uint(b.StartBit)
	return raw
}

// Bounds is an optional inclusive min/max range used for out-of-range
// detection on decode and bounds enforcement on encode.
type Bounds struct {
	Min    float64
	Max    float64
	Active bool
}

// Definition is the authoritative descriptor for a 16-bit DID
// (spec.md §3, §4.3).
type Definition struct {
	DID   uint16
	Name  string // semantic name, e.g. "engine_rpm"
	Type  DataType
	Order ByteOrder
	Shape Shape

	Scale  float64 // a zero value is treated as 1.0 by Decode and Encode
	Offset float64

	Bounds Bounds
	Unit   string

	Enum   EnumTable // scalar enum
	Bits   []BitField
	Labels []string // labels for a 1-D labeled array
	Axes   []Axis   // for matrix shape: [row_axis, col_axis]

	// StringLength is the fixed on-wire length for TypeString/TypeBytes.
	StringLength int
}

// ByteWidth returns the total payload width in bytes for this definition.
func (d Definition) ByteWidth() (int, error) {
	if d.Type == TypeString || d.Type == TypeBytes {
		if d.StringLength <= 0 {
			return 0, fmt.Errorf("conv: %s: string/bytes type requires a configured length", d.Name)
		}
		return d.StringLength, nil
	}
	w, err := d.Type.ByteWidth()
	if err != nil {
		return 0, err
	}
	return w * d.Shape.ElementCount(), nil
}

// IsBitfield reports whether this definition decodes via named bit ranges
// rather than a linear scale transform.
func (d Definition) IsBitfield() bool { return len(d.Bits) > 0 }

// IsLabeledArray reports whether a 1-D array definition has element labels.
func (d Definition) IsLabeledArray() bool {
	return d.Shape.Kind == ShapeArray && len(d.Labels) == len(d.Labels) && len(d.Labels) > 0
}
