package chunk

import "fmt"

// ResID is a packed resource identifier: 0xPPTTEEEE.
type ResID uint32

// NewResID packs a package id, type id and entry index.
func NewResID(pkg, typ uint8, entry uint16) ResID {
	return ResID(uint32(pkg)<<24 | uint32(typ)<<16 | uint32(entry))
}

// Package returns the package id.
func (id ResID) Package() uint8 { return uint8(id >> 24) }

// Type returns the 1-based type id.
func (id ResID) Type() uint8 { return uint8(id >> 16) }

// Entry returns the entry index within the type.
func (id ResID) Entry() uint16 { return uint16(id) }

// IsZero reports whether id is unset.
func (id ResID) IsZero() bool { return id == 0 }

func (id ResID) String() string { return fmt.Sprintf("0x%08x", uint32(id)) }

// ValueType is the data type of a Res_value.
type ValueType uint8

// Res_value data types.
const (
	ValueNull             ValueType = 0x00
	ValueReference        ValueType = 0x01
	ValueAttribute        ValueType = 0x02
	ValueString           ValueType = 0x03
	ValueFloat            ValueType = 0x04
	ValueDimension        ValueType = 0x05
	ValueFraction         ValueType = 0x06
	ValueDynamicReference ValueType = 0x07
	ValueIntDec           ValueType = 0x10
	ValueIntHex           ValueType = 0x11
	ValueIntBoolean       ValueType = 0x12
	ValueIntColorARGB8    ValueType = 0x1c
	ValueIntColorRGB8     ValueType = 0x1d
	ValueIntColorARGB4    ValueType = 0x1e
	ValueIntColorRGB4     ValueType = 0x1f
)

// ValueSize is the encoded size of a Res_value.
const ValueSize = 8

// BoolTrue is the data word the platform uses for a true boolean.
const BoolTrue uint32 = 0xffffffff

// Value is a typed resource value (Res_value).
type Value struct {
	Type ValueType
	Data uint32
}

// ReadValue reads a Res_value at off. The size and reserved fields are checked.
func ReadValue(b []byte, off int) (Value, error) {
	if off+ValueSize > len(b) {
		return Value{}, Errorf(off, "truncated value")
	}
	if size := U16(b, off); size < ValueSize {
		return Value{}, Errorf(off, "value size %d below %d", size, ValueSize)
	}
	return Value{Type: ValueType(b[off+3]), Data: U32(b, off+4)}, nil
}

// Encode appends the value to w.
func (v Value) Encode(w *Writer) {
	w.U16(ValueSize)
	w.U8(0)
	w.U8(uint8(v.Type))
	w.U32(v.Data)
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{Type: ValueIntBoolean, Data: BoolTrue}
	}
	return Value{Type: ValueIntBoolean}
}
