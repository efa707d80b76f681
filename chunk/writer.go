package chunk

import "encoding/binary"

// Writer accumulates little-endian chunk bytes.
//
// Nested chunks are written with Begin/End: Begin reserves a header and
// returns a mark, End patches the total size once every child has been
// written. Sizes are therefore always recomputed bottom-up.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Result returns the written bytes.
func (w *Writer) Result() []byte { return w.buf }

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// Bytes appends b verbatim.
func (w *Writer) Bytes(b []byte) { w.buf = append(w.buf, b...) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	for range n {
		w.buf = append(w.buf, 0)
	}
}

// Align pads with zeros up to a multiple of n, relative to mark.
func (w *Writer) Align(mark, n int) {
	if r := (len(w.buf) - mark) % n; r != 0 {
		w.Zero(n - r)
	}
}

// PutU16At overwrites a uint16 at an absolute offset.
func (w *Writer) PutU16At(off int, v uint16) { binary.LittleEndian.PutUint16(w.buf[off:], v) }

// PutU32At overwrites a uint32 at an absolute offset.
func (w *Writer) PutU32At(off int, v uint32) { binary.LittleEndian.PutUint32(w.buf[off:], v) }

// Begin writes a chunk header with a zero size and returns its offset.
func (w *Writer) Begin(typ, headerSize uint16) int {
	mark := len(w.buf)
	w.U16(typ)
	w.U16(headerSize)
	w.U32(0)
	return mark
}

// End sets the total size of the chunk started at mark.
func (w *Writer) End(mark int) {
	w.PutU32At(mark+4, uint32(len(w.buf)-mark))
}
