package chunk

import "unicode/utf16"

// String pool flags.
const (
	PoolFlagSorted uint32 = 1 << 0
	PoolFlagUTF8   uint32 = 1 << 8
)

// stringPoolHeaderSize is the header size of a ResStringPool chunk.
const stringPoolHeaderSize = 28

// StringPool is a parsed string pool chunk.
//
// The pool is append-only. Existing string bytes are kept verbatim and new
// strings are encoded after them, so every index and offset already embedded
// elsewhere stays valid. A UTF-8 pool receiving a string too long for its
// length prefix is re-encoded as UTF-16 first. Style spans are kept as
// opaque bytes.
type StringPool struct {
	flags        uint32
	headerExtra  []byte
	offsets      []uint32
	styleOffsets []uint32
	gap          []byte
	strData      []byte
	styleData    []byte
	strs         []string
	index        map[string]int
	stringsZero  bool
}

// NewStringPool returns an empty pool. utf8 selects the string encoding.
func NewStringPool(utf8 bool) *StringPool {
	p := &StringPool{index: make(map[string]int)}
	if utf8 {
		p.flags = PoolFlagUTF8
	}
	return p
}

// ParseStringPool parses the string pool chunk at off.
func ParseStringPool(b []byte, off int) (*StringPool, error) {
	h, err := Expect(b, off, TypeStringPool, stringPoolHeaderSize)
	if err != nil {
		return nil, err
	}
	end := off + int(h.Size)
	count := int(U32(b, off+8))
	styleCount := int(U32(b, off+12))
	p := &StringPool{
		flags:       U32(b, off+16),
		headerExtra: clone(b[off+stringPoolHeaderSize : off+int(h.HeaderSize)]),
		index:       make(map[string]int, count),
	}
	stringsStart := int(U32(b, off+20))
	stylesStart := int(U32(b, off+24))

	tableEnd := off + int(h.HeaderSize) + 4*(count+styleCount)
	if tableEnd > end {
		return nil, Errorf(off, "string pool offset table exceeds chunk (%d strings, %d styles)", count, styleCount)
	}
	p.offsets = make([]uint32, count)
	for i := range count {
		p.offsets[i] = U32(b, off+int(h.HeaderSize)+4*i)
	}
	p.styleOffsets = make([]uint32, styleCount)
	for i := range styleCount {
		p.styleOffsets[i] = U32(b, off+int(h.HeaderSize)+4*(count+i))
	}

	dataEnd := end
	if styleCount > 0 {
		if stylesStart == 0 || off+stylesStart > end {
			return nil, Errorf(off, "string pool styles start %d out of range", stylesStart)
		}
		dataEnd = off + stylesStart
		p.styleData = clone(b[dataEnd:end])
	}

	if count == 0 && stringsStart == 0 {
		p.stringsZero = true
		p.gap = clone(b[tableEnd:dataEnd])
		return p, nil
	}
	if off+stringsStart < tableEnd || off+stringsStart > dataEnd {
		return nil, Errorf(off, "string pool strings start %d out of range", stringsStart)
	}
	p.gap = clone(b[tableEnd : off+stringsStart])
	p.strData = clone(b[off+stringsStart : dataEnd])

	p.strs = make([]string, count)
	for i, so := range p.offsets {
		s, err := p.decode(int(so))
		if err != nil {
			return nil, Errorf(off+stringsStart+int(so), "string %d: %v", i, err)
		}
		p.strs[i] = s
		if _, ok := p.index[s]; !ok {
			p.index[s] = i
		}
	}
	return p, nil
}

// IsUTF8 reports whether strings are stored as UTF-8.
func (p *StringPool) IsUTF8() bool { return p.flags&PoolFlagUTF8 != 0 }

// Len returns the number of strings.
func (p *StringPool) Len() int { return len(p.strs) }

// Get returns the string at index i, or "" when i is out of range.
func (p *StringPool) Get(i uint32) string {
	if int(i) >= len(p.strs) {
		return ""
	}
	return p.strs[i]
}

// Find returns the first index holding v.
func (p *StringPool) Find(v string) (uint32, bool) {
	i, ok := p.index[v]
	return uint32(i), ok
}

// AddString returns the index of v in the pool.
// With dedupe set, an existing equal string is reused; otherwise v is
// always appended and the new index returned.
func (p *StringPool) AddString(v string, dedupe bool) uint32 {
	if dedupe {
		if i, ok := p.index[v]; ok {
			return uint32(i)
		}
	}
	if p.IsUTF8() && max(len(v), len(utf16.Encode([]rune(v)))) > maxUTF8Length {
		p.toUTF16()
	}
	i := len(p.strs)
	p.offsets = append(p.offsets, uint32(len(p.strData)))
	p.strData = p.encode(p.strData, v)
	p.strs = append(p.strs, v)
	if _, ok := p.index[v]; !ok {
		p.index[v] = i
	}
	p.stringsZero = false
	// Appended strings break any sort order the pool had.
	p.flags &^= PoolFlagSorted
	return uint32(i)
}

// maxUTF8Length is the largest length a two-byte UTF-8 prefix can hold.
const maxUTF8Length = 0x7fff

// toUTF16 re-encodes every string as UTF-16. Indices are unchanged.
func (p *StringPool) toUTF16() {
	p.flags &^= PoolFlagUTF8
	p.strData = p.strData[:0:0]
	for i, v := range p.strs {
		p.offsets[i] = uint32(len(p.strData))
		p.strData = p.encode(p.strData, v)
	}
}

// Encode appends the pool chunk to w.
func (p *StringPool) Encode(w *Writer) {
	headerSize := stringPoolHeaderSize + len(p.headerExtra)
	mark := w.Begin(TypeStringPool, uint16(headerSize))
	w.U32(uint32(len(p.offsets)))
	w.U32(uint32(len(p.styleOffsets)))
	w.U32(p.flags)
	startsAt := w.Len()
	w.U32(0)
	w.U32(0)
	w.Bytes(p.headerExtra)
	for _, o := range p.offsets {
		w.U32(o)
	}
	for _, o := range p.styleOffsets {
		w.U32(o)
	}
	w.Bytes(p.gap)
	if !p.stringsZero {
		w.PutU32At(startsAt, uint32(w.Len()-mark))
	}
	w.Bytes(p.strData)
	w.Align(mark, 4)
	if len(p.styleOffsets) > 0 {
		w.PutU32At(startsAt+4, uint32(w.Len()-mark))
		w.Bytes(p.styleData)
	}
	w.End(mark)
}

func (p *StringPool) decode(off int) (string, error) {
	data := p.strData
	if off < 0 || off >= len(data) {
		return "", errorString("offset out of range")
	}
	if p.IsUTF8() {
		_, n, err := utf8Length(data, off)
		if err != nil {
			return "", err
		}
		off += n
		size, n, err := utf8Length(data, off)
		if err != nil {
			return "", err
		}
		off += n
		if off+size > len(data) {
			return "", errorString("utf-8 string exceeds pool")
		}
		return string(data[off : off+size]), nil
	}
	units, n, err := utf16Length(data, off)
	if err != nil {
		return "", err
	}
	off += n
	if off+2*units > len(data) {
		return "", errorString("utf-16 string exceeds pool")
	}
	u := make([]uint16, units)
	for i := range u {
		u[i] = U16(data, off+2*i)
	}
	return string(utf16.Decode(u)), nil
}

func (p *StringPool) encode(dst []byte, v string) []byte {
	units := utf16.Encode([]rune(v))
	if p.IsUTF8() {
		dst = appendUTF8Length(dst, len(units))
		dst = appendUTF8Length(dst, len(v))
		dst = append(dst, v...)
		return append(dst, 0)
	}
	if len(units) > 0x7fff {
		dst = appendU16(dst, uint16(0x8000|len(units)>>16))
		dst = appendU16(dst, uint16(len(units)))
	} else {
		dst = appendU16(dst, uint16(len(units)))
	}
	for _, u := range units {
		dst = appendU16(dst, u)
	}
	return appendU16(dst, 0)
}

// utf8Length reads a 1 or 2 byte length prefix.
func utf8Length(b []byte, off int) (int, int, error) {
	if off >= len(b) {
		return 0, 0, errorString("truncated length")
	}
	if b[off]&0x80 == 0 {
		return int(b[off]), 1, nil
	}
	if off+1 >= len(b) {
		return 0, 0, errorString("truncated length")
	}
	return int(b[off]&0x7f)<<8 | int(b[off+1]), 2, nil
}

// utf16Length reads a 1 or 2 unit length prefix and returns its byte width.
func utf16Length(b []byte, off int) (int, int, error) {
	if off+2 > len(b) {
		return 0, 0, errorString("truncated length")
	}
	v := U16(b, off)
	if v&0x8000 == 0 {
		return int(v), 2, nil
	}
	if off+4 > len(b) {
		return 0, 0, errorString("truncated length")
	}
	return int(v&0x7fff)<<16 | int(U16(b, off+2)), 4, nil
}

func appendUTF8Length(dst []byte, n int) []byte {
	if n > 0x7f {
		return append(dst, byte(0x80|(n>>8)&0x7f), byte(n))
	}
	return append(dst, byte(n))
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type errorString string

func (e errorString) Error() string { return string(e) }
