// Package arsc parses, extends and re-encodes compiled resource tables
// (resources.arsc).
//
// Every configuration variant (Type chunk) of a resource type must expose
// the same number of entry slots as its TypeSpec. All mutation goes through
// Package.AddResource, which appends one slot to every variant at once.
package arsc

import (
	"unicode/utf16"

	"github.com/pithecene-io/modpatch/chunk"
)

const (
	tableHeaderSize      = 12
	packageHeaderMinSize = 284
	packageHeaderSize    = 288
	packageNameSize      = 256
)

type node interface {
	encode(w *chunk.Writer)
}

type rawNode struct {
	*chunk.Raw
}

func (r rawNode) encode(w *chunk.Writer) { r.Encode(w) }

type poolNode struct {
	pool *chunk.StringPool
}

func (p poolNode) encode(w *chunk.Writer) { p.pool.Encode(w) }

// Table is a parsed resource table.
type Table struct {
	// Pool is the global value string pool.
	Pool     *chunk.StringPool
	Packages []*Package

	headerExtra []byte
	children    []node
}

// Package is one resource package, usually 0x7f for the application.
type Package struct {
	ID             uint32
	LastPublicType uint32
	LastPublicKey  uint32
	TypeIDOffset   uint32
	TypeStrings    *chunk.StringPool
	KeyStrings     *chunk.StringPool

	name        []byte
	headerSize  int
	headerExtra []byte
	children    []node
}

type typePoolNode struct{}

func (typePoolNode) encode(*chunk.Writer) {}

type keyPoolNode struct{}

func (keyPoolNode) encode(*chunk.Writer) {}

// Parse decodes a resource table.
func Parse(b []byte) (*Table, error) {
	h, err := chunk.Expect(b, 0, chunk.TypeTable, tableHeaderSize)
	if err != nil {
		return nil, err
	}
	if int(h.Size) != len(b) {
		return nil, chunk.Errorf(0, "table chunk size %d does not match input length %d", h.Size, len(b))
	}
	t := &Table{headerExtra: clone(b[tableHeaderSize:h.HeaderSize])}
	declared := int(chunk.U32(b, 8))
	err = chunk.Walk(b, int(h.HeaderSize), int(h.Size), func(ch chunk.Header, off int) error {
		switch ch.Type {
		case chunk.TypeStringPool:
			if t.Pool != nil {
				return chunk.Errorf(off, "duplicate global string pool")
			}
			pool, err := chunk.ParseStringPool(b, off)
			if err != nil {
				return err
			}
			t.Pool = pool
			t.children = append(t.children, poolNode{pool})
		case chunk.TypeTablePackage:
			p, err := parsePackage(b, off, ch)
			if err != nil {
				return err
			}
			t.Packages = append(t.Packages, p)
			t.children = append(t.children, p)
		default:
			t.children = append(t.children, rawNode{chunk.ReadRaw(b, off, ch)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if t.Pool == nil {
		return nil, chunk.Errorf(0, "table has no global string pool")
	}
	if declared != len(t.Packages) {
		return nil, chunk.Errorf(8, "table declares %d packages, found %d", declared, len(t.Packages))
	}
	return t, nil
}

// Encode serializes the table, recomputing every size and offset.
func (t *Table) Encode() []byte {
	w := chunk.NewWriter(64 * 1024)
	mark := w.Begin(chunk.TypeTable, uint16(tableHeaderSize+len(t.headerExtra)))
	w.U32(uint32(len(t.Packages)))
	w.Bytes(t.headerExtra)
	for _, c := range t.children {
		c.encode(w)
	}
	w.End(mark)
	return w.Result()
}

// Package returns the package with the given id, or nil.
func (t *Table) Package(id uint8) *Package {
	for _, p := range t.Packages {
		if p.ID == uint32(id) {
			return p
		}
	}
	return nil
}

func parsePackage(b []byte, off int, h chunk.Header) (*Package, error) {
	if h.HeaderSize < packageHeaderMinSize {
		return nil, chunk.Errorf(off, "package header size %d below %d", h.HeaderSize, packageHeaderMinSize)
	}
	p := &Package{
		ID:             chunk.U32(b, off+8),
		name:           clone(b[off+12 : off+12+packageNameSize]),
		LastPublicType: chunk.U32(b, off+272),
		LastPublicKey:  chunk.U32(b, off+280),
		headerSize:     int(h.HeaderSize),
	}
	extraAt := off + packageHeaderMinSize
	if h.HeaderSize >= packageHeaderSize {
		p.TypeIDOffset = chunk.U32(b, off+284)
		extraAt = off + packageHeaderSize
	}
	p.headerExtra = clone(b[extraAt : off+int(h.HeaderSize)])
	typeStrings := int(chunk.U32(b, off+268))
	keyStrings := int(chunk.U32(b, off+276))

	specs := make(map[uint8]*TypeSpec)
	err := chunk.Walk(b, off+int(h.HeaderSize), off+int(h.Size), func(ch chunk.Header, coff int) error {
		rel := coff - off
		switch {
		case ch.Type == chunk.TypeStringPool && rel == typeStrings:
			pool, err := chunk.ParseStringPool(b, coff)
			if err != nil {
				return err
			}
			p.TypeStrings = pool
			p.children = append(p.children, typePoolNode{})
		case ch.Type == chunk.TypeStringPool && rel == keyStrings:
			pool, err := chunk.ParseStringPool(b, coff)
			if err != nil {
				return err
			}
			p.KeyStrings = pool
			p.children = append(p.children, keyPoolNode{})
		case ch.Type == chunk.TypeTableTypeSpec:
			s, err := parseTypeSpec(b, coff, ch)
			if err != nil {
				return err
			}
			specs[s.ID] = s
			p.children = append(p.children, s)
		case ch.Type == chunk.TypeTableType:
			if ch.Size < typeHeaderSize {
				return chunk.Errorf(coff, "type chunk truncated")
			}
			count := 0
			if s := specs[b[coff+8]]; s != nil {
				count = s.EntryCount()
			}
			ty, err := parseType(b, coff, ch, count)
			if err != nil {
				return err
			}
			p.children = append(p.children, ty)
		default:
			p.children = append(p.children, rawNode{chunk.ReadRaw(b, coff, ch)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.TypeStrings == nil || p.KeyStrings == nil {
		return nil, chunk.Errorf(off, "package %#x is missing its type or key string pool", p.ID)
	}
	return p, nil
}

// Name returns the package name.
func (p *Package) Name() string {
	u := make([]uint16, 0, packageNameSize/2)
	for i := 0; i+1 < len(p.name); i += 2 {
		c := chunk.U16(p.name, i)
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

func (p *Package) encode(w *chunk.Writer) {
	mark := w.Begin(chunk.TypeTablePackage, uint16(p.headerSize))
	w.U32(p.ID)
	w.Bytes(p.name)
	typeAt := w.Len()
	w.U32(0)
	w.U32(p.LastPublicType)
	keyAt := w.Len()
	w.U32(0)
	w.U32(p.LastPublicKey)
	if p.headerSize >= packageHeaderSize {
		w.U32(p.TypeIDOffset)
	}
	w.Bytes(p.headerExtra)
	for _, c := range p.children {
		switch c.(type) {
		case typePoolNode:
			w.PutU32At(typeAt, uint32(w.Len()-mark))
			p.TypeStrings.Encode(w)
		case keyPoolNode:
			w.PutU32At(keyAt, uint32(w.Len()-mark))
			p.KeyStrings.Encode(w)
		default:
			c.encode(w)
		}
	}
	w.End(mark)
}

// Specs returns the package's type specs in file order.
func (p *Package) Specs() []*TypeSpec {
	var out []*TypeSpec
	for _, c := range p.children {
		if s, ok := c.(*TypeSpec); ok {
			out = append(out, s)
		}
	}
	return out
}

// Spec returns the type spec with the given type id, or nil.
func (p *Package) Spec(id uint8) *TypeSpec {
	for _, c := range p.children {
		if s, ok := c.(*TypeSpec); ok && s.ID == id {
			return s
		}
	}
	return nil
}

// Types returns every configuration variant of type id, in file order.
func (p *Package) Types(id uint8) []*Type {
	var out []*Type
	for _, c := range p.children {
		if t, ok := c.(*Type); ok && t.ID == id {
			out = append(out, t)
		}
	}
	return out
}

// TypeID returns the id of the type named name.
func (p *Package) TypeID(name string) (uint8, bool) {
	i, ok := p.TypeStrings.Find(name)
	if !ok {
		return 0, false
	}
	return uint8(i + 1 + p.TypeIDOffset), true
}

// TypeName returns the name of type id.
func (p *Package) TypeName(id uint8) string {
	return p.TypeStrings.Get(uint32(id) - 1 - p.TypeIDOffset)
}

// KeyName returns the resource name of e.
func (p *Package) KeyName(e *Entry) string {
	return p.KeyStrings.Get(e.Key)
}
