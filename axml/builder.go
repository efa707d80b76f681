package axml

import "github.com/pithecene-io/modpatch/chunk"

// Builder assembles a document element by element.
// Used to synthesize resource XML that the base archive does not carry.
type Builder struct {
	d      *Document
	open   []*StartElement
	ns     []*Namespace
	line   uint32
	closed bool
}

// NewBuilder returns a builder over an empty document.
func NewBuilder() *Builder {
	return &Builder{d: New(), line: 1}
}

// Namespace declares a namespace prefix for the rest of the document.
func (b *Builder) Namespace(prefix, uri string) *Builder {
	n := &Namespace{
		NodeHeader: NodeHeader{Line: b.line, Comment: NoIndex},
		Prefix:     b.d.Pool.AddString(prefix, true),
		URI:        b.d.Pool.AddString(uri, true),
	}
	b.d.Nodes = append(b.d.Nodes, n)
	b.ns = append(b.ns, n)
	return b
}

// Start opens an element with the given attributes.
func (b *Builder) Start(name string, attrs ...AttrSpec) *Builder {
	b.line++
	idx, _ := b.d.InsertElementPair(len(b.d.Nodes)-1, "", name, attrs)
	// Drop the generated end marker; End emits it once children are written.
	el := b.d.Nodes[idx].(*StartElement)
	b.d.Nodes = b.d.Nodes[:idx+1]
	el.Line = b.line
	b.open = append(b.open, el)
	return b
}

// End closes the most recently opened element.
func (b *Builder) End() *Builder {
	if len(b.open) == 0 {
		return b
	}
	el := b.open[len(b.open)-1]
	b.open = b.open[:len(b.open)-1]
	b.d.Nodes = append(b.d.Nodes, &EndElement{
		NodeHeader: NodeHeader{Line: b.line, Comment: NoIndex},
		NS:         el.NS,
		Name:       el.Name,
	})
	return b
}

// Document closes open elements and namespaces and returns the result.
func (b *Builder) Document() *Document {
	if b.closed {
		return b.d
	}
	for len(b.open) > 0 {
		b.End()
	}
	for i := len(b.ns) - 1; i >= 0; i-- {
		n := b.ns[i]
		b.d.Nodes = append(b.d.Nodes, &Namespace{
			NodeHeader: NodeHeader{Line: b.line, Comment: NoIndex},
			End:        true,
			Prefix:     n.Prefix,
			URI:        n.URI,
		})
	}
	b.d.bindFirst()
	b.closed = true
	return b.d
}

// bindFirst reorders the pool the way aapt lays it out: names bound in the
// resource map take the lowest indices and the map covers exactly them.
// Decoders treat index 0 as "no namespace prefix", so no prefix may sit
// there. Every string reference in the node list is remapped.
func (d *Document) bindFirst() {
	n := d.Pool.Len()
	order := make([]int, 0, n)
	var ids []uint32
	for i := range n {
		if i < len(d.ResourceMap) && d.ResourceMap[i] != 0 {
			order = append(order, i)
			ids = append(ids, d.ResourceMap[i])
		}
	}
	for i := range n {
		if i >= len(d.ResourceMap) || d.ResourceMap[i] == 0 {
			order = append(order, i)
		}
	}
	pool := chunk.NewStringPool(d.Pool.IsUTF8())
	remap := make([]uint32, n)
	for _, old := range order {
		remap[old] = pool.AddString(d.Pool.Get(uint32(old)), false)
	}
	ref := func(i uint32) uint32 {
		if int(i) < n {
			return remap[i]
		}
		return i
	}
	for _, node := range d.Nodes {
		switch v := node.(type) {
		case *Namespace:
			v.Comment, v.Prefix, v.URI = ref(v.Comment), ref(v.Prefix), ref(v.URI)
		case *StartElement:
			v.Comment, v.NS, v.Name = ref(v.Comment), ref(v.NS), ref(v.Name)
			for _, a := range v.Attrs {
				a.NS, a.Name, a.RawValue = ref(a.NS), ref(a.Name), ref(a.RawValue)
				if a.Value.Type == chunk.ValueString {
					a.Value.Data = ref(a.Value.Data)
				}
			}
		case *EndElement:
			v.Comment, v.NS, v.Name = ref(v.Comment), ref(v.NS), ref(v.Name)
		case *CData:
			v.Comment, v.Data = ref(v.Comment), ref(v.Data)
			if v.Value.Type == chunk.ValueString {
				v.Value.Data = ref(v.Value.Data)
			}
		}
	}
	d.Pool = pool
	d.ResourceMap = ids
}
