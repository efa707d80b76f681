// Package chunk implements the typed, length-prefixed chunk framing shared by
// compiled XML documents and compiled resource tables.
//
// Every chunk starts with an 8-byte header: type (u16), header size (u16) and
// total size (u32), all little-endian. Parsers in this module keep unknown
// chunks as raw bytes so that serialize(parse(b)) reproduces b exactly.
package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/pithecene-io/modpatch/types"
)

// Chunk type tags.
const (
	TypeNull              uint16 = 0x0000
	TypeStringPool        uint16 = 0x0001
	TypeTable             uint16 = 0x0002
	TypeXML               uint16 = 0x0003
	TypeXMLStartNamespace uint16 = 0x0100
	TypeXMLEndNamespace   uint16 = 0x0101
	TypeXMLStartElement   uint16 = 0x0102
	TypeXMLEndElement     uint16 = 0x0103
	TypeXMLCData          uint16 = 0x0104
	TypeXMLResourceMap    uint16 = 0x0180
	TypeTablePackage      uint16 = 0x0200
	TypeTableType         uint16 = 0x0201
	TypeTableTypeSpec     uint16 = 0x0202
	TypeTableLibrary      uint16 = 0x0203
)

// HeaderSize is the size of the common chunk header.
const HeaderSize = 8

// Header is the common chunk header.
type Header struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32
}

// FormatError reports malformed binary input.
// It matches types.ErrFormat under errors.Is.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at offset %#x: %s", e.Offset, e.Msg)
}

// Is reports whether target is types.ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == types.ErrFormat
}

// Errorf returns a *FormatError for the given offset.
func Errorf(offset int, format string, args ...any) error {
	return &FormatError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// ReadHeader reads and validates the chunk header at off.
// The chunk must fit entirely inside b.
func ReadHeader(b []byte, off int) (Header, error) {
	if off < 0 || off+HeaderSize > len(b) {
		return Header{}, Errorf(off, "truncated chunk header")
	}
	h := Header{
		Type:       binary.LittleEndian.Uint16(b[off:]),
		HeaderSize: binary.LittleEndian.Uint16(b[off+2:]),
		Size:       binary.LittleEndian.Uint32(b[off+4:]),
	}
	switch {
	case h.HeaderSize < HeaderSize:
		return h, Errorf(off, "chunk %#04x header size %d below minimum", h.Type, h.HeaderSize)
	case uint32(h.HeaderSize) > h.Size:
		return h, Errorf(off, "chunk %#04x header size %d exceeds chunk size %d", h.Type, h.HeaderSize, h.Size)
	case uint64(off)+uint64(h.Size) > uint64(len(b)):
		return h, Errorf(off, "chunk %#04x size %d exceeds buffer (%d bytes left)", h.Type, h.Size, len(b)-off)
	}
	return h, nil
}

// Expect reads the header at off and checks its type and minimum header size.
func Expect(b []byte, off int, typ uint16, minHeader uint16) (Header, error) {
	h, err := ReadHeader(b, off)
	if err != nil {
		return h, err
	}
	if h.Type != typ {
		return h, Errorf(off, "expected chunk %#04x, got %#04x", typ, h.Type)
	}
	if h.HeaderSize < minHeader {
		return h, Errorf(off, "chunk %#04x header size %d below %d", typ, h.HeaderSize, minHeader)
	}
	return h, nil
}

// Walk calls fn for every chunk laid out back to back in b[start:end].
func Walk(b []byte, start, end int, fn func(h Header, off int) error) error {
	off := start
	for off < end {
		h, err := ReadHeader(b[:end], off)
		if err != nil {
			return err
		}
		if err := fn(h, off); err != nil {
			return err
		}
		off += int(h.Size)
	}
	return nil
}

// Raw is a chunk kept verbatim.
type Raw struct {
	Data []byte
}

// Type returns the chunk type tag.
func (r *Raw) Type() uint16 {
	return binary.LittleEndian.Uint16(r.Data)
}

// Encode appends the chunk bytes to w.
func (r *Raw) Encode(w *Writer) {
	w.Bytes(r.Data)
}

// ReadRaw copies the chunk at off into a Raw.
func ReadRaw(b []byte, off int, h Header) *Raw {
	data := make([]byte, h.Size)
	copy(data, b[off:off+int(h.Size)])
	return &Raw{Data: data}
}

// U16 reads a little-endian uint16 at off.
func U16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }

// U32 reads a little-endian uint32 at off.
func U32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
