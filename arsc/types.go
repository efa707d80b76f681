package arsc

import (
	"slices"

	"github.com/pithecene-io/modpatch/chunk"
)

// Type chunk flags.
const (
	TypeFlagSparse   uint8 = 0x01
	TypeFlagOffset16 uint8 = 0x02
)

// Entry flags.
const (
	EntryFlagComplex uint16 = 0x0001
	EntryFlagPublic  uint16 = 0x0002
	EntryFlagWeak    uint16 = 0x0004
	EntryFlagCompact uint16 = 0x0008
)

// NoEntry marks an absent slot in a dense offset table.
const NoEntry uint32 = 0xffffffff

const (
	typeSpecHeaderSize = 16
	typeHeaderSize     = 20
	entryHeaderSize    = 8
	mapEntryHeaderSize = 16
	mapPairSize        = 4 + chunk.ValueSize
	noEntry16          = 0xffff
)

// TypeSpec declares the entries of one resource type. Its flag array has
// one element per entry and fixes the entry count every variant must have.
type TypeSpec struct {
	ID    uint8
	Res0  uint8
	Res1  uint16
	Flags []uint32

	headerExtra []byte
	tail        []byte
}

func parseTypeSpec(b []byte, off int, h chunk.Header) (*TypeSpec, error) {
	if h.HeaderSize < typeSpecHeaderSize {
		return nil, chunk.Errorf(off, "type spec header size %d below %d", h.HeaderSize, typeSpecHeaderSize)
	}
	end := off + int(h.Size)
	s := &TypeSpec{
		ID:          b[off+8],
		Res0:        b[off+9],
		Res1:        chunk.U16(b, off+10),
		headerExtra: clone(b[off+typeSpecHeaderSize : off+int(h.HeaderSize)]),
	}
	if s.ID == 0 {
		return nil, chunk.Errorf(off, "type spec id 0")
	}
	count := int(chunk.U32(b, off+12))
	flagsAt := off + int(h.HeaderSize)
	if flagsAt+4*count > end {
		return nil, chunk.Errorf(off, "type spec %d: %d flags exceed chunk", s.ID, count)
	}
	s.Flags = make([]uint32, count)
	for i := range count {
		s.Flags[i] = chunk.U32(b, flagsAt+4*i)
	}
	s.tail = clone(b[flagsAt+4*count : end])
	return s, nil
}

// EntryCount returns the number of entries the type declares.
func (s *TypeSpec) EntryCount() int { return len(s.Flags) }

func (s *TypeSpec) encode(w *chunk.Writer) {
	mark := w.Begin(chunk.TypeTableTypeSpec, uint16(typeSpecHeaderSize+len(s.headerExtra)))
	w.U8(s.ID)
	w.U8(s.Res0)
	w.U16(s.Res1)
	w.U32(uint32(len(s.Flags)))
	w.Bytes(s.headerExtra)
	for _, f := range s.Flags {
		w.U32(f)
	}
	w.Bytes(s.tail)
	w.End(mark)
}

// Entry is one resource value in a configuration variant.
type Entry struct {
	Flags uint16
	// Key indexes the package key pool.
	Key uint32
	// Value is set for simple and compact entries.
	Value chunk.Value
	// Parent and Count describe complex (map) entries.
	Parent uint32
	Count  uint32

	raw []byte
}

// NewEntry returns a simple entry.
func NewEntry(key uint32, v chunk.Value) *Entry {
	return &Entry{Key: key, Value: v}
}

// IsComplex reports whether the entry holds a map of values.
func (e *Entry) IsComplex() bool { return e.Flags&EntryFlagComplex != 0 }

// IsCompact reports whether the entry uses the 8-byte compact form.
func (e *Entry) IsCompact() bool { return e.Flags&EntryFlagCompact != 0 }

func parseEntry(b []byte, off, end int) (*Entry, error) {
	if off+entryHeaderSize > end {
		return nil, chunk.Errorf(off, "entry header truncated")
	}
	flags := chunk.U16(b, off+2)
	if flags&EntryFlagCompact != 0 {
		return &Entry{
			Flags: flags,
			Key:   uint32(chunk.U16(b, off)),
			Value: chunk.Value{Type: chunk.ValueType(flags >> 8), Data: chunk.U32(b, off+4)},
		}, nil
	}
	size := int(chunk.U16(b, off))
	e := &Entry{Flags: flags, Key: chunk.U32(b, off+4)}
	if flags&EntryFlagComplex != 0 {
		if size < mapEntryHeaderSize || off+size > end {
			return nil, chunk.Errorf(off, "map entry size %d out of range", size)
		}
		e.Parent = chunk.U32(b, off+8)
		e.Count = chunk.U32(b, off+12)
		if off+size+int(e.Count)*mapPairSize > end {
			return nil, chunk.Errorf(off, "map entry with %d values exceeds chunk", e.Count)
		}
		return e, nil
	}
	if size < entryHeaderSize {
		return nil, chunk.Errorf(off, "entry size %d below %d", size, entryHeaderSize)
	}
	if off+size+chunk.ValueSize > end {
		return nil, chunk.Errorf(off, "entry value exceeds chunk")
	}
	v, err := chunk.ReadValue(b, off+size)
	if err != nil {
		return nil, err
	}
	e.Value = v
	return e, nil
}

func (e *Entry) encode(w *chunk.Writer) {
	if e.raw != nil {
		w.Bytes(e.raw)
		return
	}
	w.U16(entryHeaderSize)
	w.U16(e.Flags)
	w.U32(e.Key)
	e.Value.Encode(w)
}

// Type is one configuration variant of a resource type. Slots is indexed by
// entry id; nil slots have no value in this configuration.
type Type struct {
	ID       uint8
	Flags    uint8
	Reserved uint16
	Config   Config
	Slots    []*Entry

	headerExtra []byte
	// order is the data layout; entries shared by several slots appear once.
	order []*Entry
	lead  []byte
}

func parseType(b []byte, off int, h chunk.Header, specCount int) (*Type, error) {
	if h.HeaderSize < typeHeaderSize {
		return nil, chunk.Errorf(off, "type header size %d below %d", h.HeaderSize, typeHeaderSize)
	}
	end := off + int(h.Size)
	t := &Type{
		ID:       b[off+8],
		Flags:    b[off+9],
		Reserved: chunk.U16(b, off+10),
	}
	count := int(chunk.U32(b, off+12))
	entriesStart := int(chunk.U32(b, off+16))
	cfg, err := readConfig(b, off+typeHeaderSize, off+int(h.HeaderSize))
	if err != nil {
		return nil, err
	}
	t.Config = cfg
	t.headerExtra = clone(b[off+typeHeaderSize+cfg.Size() : off+int(h.HeaderSize)])

	tableAt := off + int(h.HeaderSize)
	width := 4
	if t.Flags&TypeFlagSparse == 0 && t.Flags&TypeFlagOffset16 != 0 {
		width = 2
	}
	if tableAt+count*width > end || off+entriesStart > end || off+entriesStart < tableAt+count*width {
		return nil, chunk.Errorf(off, "type %d: entry table out of range", t.ID)
	}
	data := off + entriesStart

	// slot index -> entry offset relative to data
	type slotOff struct{ idx, rel int }
	var slots []slotOff
	n := count
	switch {
	case t.Flags&TypeFlagSparse != 0:
		n = specCount
		for i := range count {
			idx := int(chunk.U16(b, tableAt+4*i))
			slots = append(slots, slotOff{idx, 4 * int(chunk.U16(b, tableAt+4*i+2))})
			n = max(n, idx+1)
		}
	case t.Flags&TypeFlagOffset16 != 0:
		for i := range count {
			if v := chunk.U16(b, tableAt+2*i); v != noEntry16 {
				slots = append(slots, slotOff{i, 4 * int(v)})
			}
		}
	default:
		for i := range count {
			if v := chunk.U32(b, tableAt+4*i); v != NoEntry {
				slots = append(slots, slotOff{i, int(v)})
			}
		}
	}
	t.Slots = make([]*Entry, n)

	// Parse each distinct offset once so shared entries keep their identity.
	byOff := make(map[int]*Entry, len(slots))
	var offs []int
	for _, s := range slots {
		if _, ok := byOff[s.rel]; ok {
			continue
		}
		e, err := parseEntry(b, data+s.rel, end)
		if err != nil {
			return nil, err
		}
		byOff[s.rel] = e
		offs = append(offs, s.rel)
	}
	for _, s := range slots {
		t.Slots[s.idx] = byOff[s.rel]
	}

	// Keep the data section verbatim: each entry owns the bytes up to the next.
	slices.Sort(offs)
	if len(offs) > 0 {
		t.lead = clone(b[data : data+offs[0]])
	} else {
		t.lead = clone(b[data:end])
	}
	for i, rel := range offs {
		next := end
		if i+1 < len(offs) {
			next = data + offs[i+1]
		}
		e := byOff[rel]
		e.raw = clone(b[data+rel : next])
		t.order = append(t.order, e)
	}
	return t, nil
}

// Entry returns the entry at index i, or nil.
func (t *Type) Entry(i int) *Entry {
	if i < 0 || i >= len(t.Slots) {
		return nil
	}
	return t.Slots[i]
}

// Append adds a slot holding e, which may be nil.
func (t *Type) Append(e *Entry) {
	t.Slots = append(t.Slots, e)
	if e != nil && !slices.Contains(t.order, e) {
		t.order = append(t.order, e)
	}
}

func (t *Type) encode(w *chunk.Writer) {
	// Lay out entry data first so the offset table can be written in one pass.
	data := chunk.NewWriter(len(t.order) * 16)
	data.Bytes(t.lead)
	offsets := make(map[*Entry]int, len(t.order))
	for _, e := range t.order {
		offsets[e] = data.Len()
		e.encode(data)
	}
	for _, e := range t.Slots {
		if _, ok := offsets[e]; e != nil && !ok {
			offsets[e] = data.Len()
			e.encode(data)
		}
	}

	flags := t.Flags
	if flags&(TypeFlagOffset16|TypeFlagSparse) != 0 && data.Len()/4 >= noEntry16 {
		flags &^= TypeFlagOffset16 | TypeFlagSparse
	}

	mark := w.Begin(chunk.TypeTableType, uint16(typeHeaderSize+t.Config.Size()+len(t.headerExtra)))
	w.U8(t.ID)
	w.U8(flags)
	w.U16(t.Reserved)
	countAt := w.Len()
	w.U32(0)
	startAt := w.Len()
	w.U32(0)
	w.Bytes(t.Config.raw)
	w.Bytes(t.headerExtra)

	count := len(t.Slots)
	switch {
	case flags&TypeFlagSparse != 0:
		count = 0
		for i, e := range t.Slots {
			if e != nil {
				w.U16(uint16(i))
				w.U16(uint16(offsets[e] / 4))
				count++
			}
		}
	case flags&TypeFlagOffset16 != 0:
		for _, e := range t.Slots {
			if e == nil {
				w.U16(noEntry16)
			} else {
				w.U16(uint16(offsets[e] / 4))
			}
		}
	default:
		for _, e := range t.Slots {
			if e == nil {
				w.U32(NoEntry)
			} else {
				w.U32(uint32(offsets[e]))
			}
		}
	}
	w.Align(mark, 4)
	w.PutU32At(countAt, uint32(count))
	w.PutU32At(startAt, uint32(w.Len()-mark))
	w.Bytes(data.Result())
	w.End(mark)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
