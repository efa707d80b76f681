package chunk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pithecene-io/modpatch/types"
)

func TestReadHeader_Errors(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"truncated header", []byte{0x01, 0x00, 0x08}},
		{"header below minimum", []byte{0x01, 0x00, 0x04, 0x00, 0x08, 0x00, 0x00, 0x00}},
		{"header exceeds size", []byte{0x01, 0x00, 0x10, 0x00, 0x08, 0x00, 0x00, 0x00}},
		{"size exceeds buffer", []byte{0x01, 0x00, 0x08, 0x00, 0x20, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(tt.b, 0)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, types.ErrFormat) {
				t.Errorf("error %v does not match ErrFormat", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("error %T is not *FormatError", err)
			}
		})
	}
}

func TestExpect_WrongType(t *testing.T) {
	b := []byte{0x03, 0x00, 0x08, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := Expect(b, 0, TypeTable, 12); !errors.Is(err, types.ErrFormat) {
		t.Errorf("Expect() error = %v, want ErrFormat", err)
	}
	if _, err := Expect(b, 0, TypeXML, 8); err != nil {
		t.Errorf("Expect() error = %v", err)
	}
}

func TestWriter_BeginEndNested(t *testing.T) {
	w := NewWriter(0)
	outer := w.Begin(TypeXML, 8)
	inner := w.Begin(TypeXMLEndElement, 16)
	w.Zero(8)
	w.End(inner)
	w.U32(0xdeadbeef)
	w.End(outer)

	b := w.Result()
	if got := U32(b, 4); got != uint32(len(b)) {
		t.Errorf("outer size = %d, want %d", got, len(b))
	}
	if got := U32(b, 12); got != 16 {
		t.Errorf("inner size = %d, want 16", got)
	}

	var seen []uint16
	err := Walk(b, 8, len(b)-4, func(h Header, _ int) error {
		seen = append(seen, h.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(seen) != 1 || seen[0] != TypeXMLEndElement {
		t.Errorf("Walk saw %v", seen)
	}
}

func TestRaw_RoundTrip(t *testing.T) {
	b := []byte{0x99, 0x01, 0x08, 0x00, 0x0c, 0x00, 0x00, 0x00, 1, 2, 3, 4}
	h, err := ReadHeader(b, 0)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	r := ReadRaw(b, 0, h)
	if r.Type() != 0x0199 {
		t.Errorf("Type() = %#x", r.Type())
	}
	w := NewWriter(0)
	r.Encode(w)
	if !bytes.Equal(w.Result(), b) {
		t.Errorf("raw round trip mismatch")
	}
}

func TestResID_RoundTrip(t *testing.T) {
	tests := []struct {
		pkg   uint8
		typ   uint8
		entry uint16
	}{
		{0x7f, 0x01, 0x0000},
		{0x01, 0x01, 0x0003},
		{0x7f, 0x0c, 0xffff},
		{0x00, 0x00, 0x0000},
	}
	for _, tt := range tests {
		id := NewResID(tt.pkg, tt.typ, tt.entry)
		back := ResID(uint32(id))
		if back.Package() != tt.pkg || back.Type() != tt.typ || back.Entry() != tt.entry {
			t.Errorf("ResID %s unpacked to %#x/%#x/%#x", id, back.Package(), back.Type(), back.Entry())
		}
	}
	if got := NewResID(0x7f, 0x02, 0x0010).String(); got != "0x7f020010" {
		t.Errorf("String() = %q", got)
	}
}

func TestValue_EncodeRead(t *testing.T) {
	w := NewWriter(0)
	Bool(true).Encode(w)
	v, err := ReadValue(w.Result(), 0)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if v.Type != ValueIntBoolean || v.Data != BoolTrue {
		t.Errorf("ReadValue() = %+v", v)
	}
	if _, err := ReadValue([]byte{8, 0, 0, 3}, 0); !errors.Is(err, types.ErrFormat) {
		t.Errorf("truncated value error = %v", err)
	}
}
