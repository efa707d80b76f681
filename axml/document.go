// Package axml parses, queries and mutates compiled binary XML documents
// such as AndroidManifest.xml.
//
// A document is kept as a flat arena of nodes in file order. Elements are
// start/end marker pairs in that list rather than a nested tree, so edits
// never reorder anything they did not touch and encoding is a straight walk.
package axml

import (
	"github.com/pithecene-io/modpatch/chunk"
)

// NoIndex is the string reference used for "no string".
const NoIndex uint32 = 0xffffffff

const (
	nodeHeaderSize = 16
	attrExtSize    = 20
	attrSize       = 20
)

// Node is one chunk in the document's flat node list.
type Node interface {
	encode(w *chunk.Writer)
}

// NodeHeader carries the fields every XML node chunk starts with.
type NodeHeader struct {
	Line    uint32
	Comment uint32
}

// Namespace is a start or end namespace marker.
type Namespace struct {
	NodeHeader
	End    bool
	Prefix uint32
	URI    uint32
}

// StartElement opens an element.
type StartElement struct {
	NodeHeader
	NS         uint32
	Name       uint32
	IDIndex    uint16
	ClassIndex uint16
	StyleIndex uint16
	Attrs      []*Attribute
	gap        []byte
}

// EndElement closes an element.
type EndElement struct {
	NodeHeader
	NS   uint32
	Name uint32
}

// CData is character data between elements.
type CData struct {
	NodeHeader
	Data  uint32
	Value chunk.Value
}

// Attribute is one element attribute.
type Attribute struct {
	NS       uint32
	Name     uint32
	RawValue uint32
	Value    chunk.Value
}

// Document is a parsed compiled XML document.
type Document struct {
	Pool *chunk.StringPool
	// ResourceMap maps string pool index i to the attribute resource id ResourceMap[i].
	ResourceMap []uint32
	Nodes       []Node

	hasResourceMap bool
}

// New returns an empty document with a UTF-8 string pool and resource map.
func New() *Document {
	return &Document{Pool: chunk.NewStringPool(true), hasResourceMap: true}
}

// rawNode keeps an unrecognized chunk verbatim.
type rawNode struct {
	*chunk.Raw
}

func (r rawNode) encode(w *chunk.Writer) { r.Encode(w) }

// Parse decodes a compiled XML document.
func Parse(b []byte) (*Document, error) {
	h, err := chunk.Expect(b, 0, chunk.TypeXML, chunk.HeaderSize)
	if err != nil {
		return nil, err
	}
	if int(h.Size) != len(b) {
		return nil, chunk.Errorf(0, "xml chunk size %d does not match input length %d", h.Size, len(b))
	}
	d := &Document{}
	err = chunk.Walk(b, int(h.HeaderSize), int(h.Size), func(ch chunk.Header, off int) error {
		switch ch.Type {
		case chunk.TypeStringPool:
			if d.Pool != nil {
				return chunk.Errorf(off, "duplicate string pool")
			}
			pool, err := chunk.ParseStringPool(b, off)
			if err != nil {
				return err
			}
			d.Pool = pool
		case chunk.TypeXMLResourceMap:
			d.hasResourceMap = true
			n := (int(ch.Size) - int(ch.HeaderSize)) / 4
			d.ResourceMap = make([]uint32, n)
			for i := range n {
				d.ResourceMap[i] = chunk.U32(b, off+int(ch.HeaderSize)+4*i)
			}
		case chunk.TypeXMLStartNamespace, chunk.TypeXMLEndNamespace,
			chunk.TypeXMLStartElement, chunk.TypeXMLEndElement, chunk.TypeXMLCData:
			n, err := parseNode(b, off, ch)
			if err != nil {
				return err
			}
			d.Nodes = append(d.Nodes, n)
		default:
			d.Nodes = append(d.Nodes, rawNode{chunk.ReadRaw(b, off, ch)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.Pool == nil {
		return nil, chunk.Errorf(0, "xml document has no string pool")
	}
	return d, nil
}

func parseNode(b []byte, off int, h chunk.Header) (Node, error) {
	if h.HeaderSize != nodeHeaderSize {
		return nil, chunk.Errorf(off, "xml node %#04x header size %d, want %d", h.Type, h.HeaderSize, nodeHeaderSize)
	}
	hdr := NodeHeader{Line: chunk.U32(b, off+8), Comment: chunk.U32(b, off+12)}
	body := off + nodeHeaderSize
	end := off + int(h.Size)
	need := func(n int) error {
		if body+n > end {
			return chunk.Errorf(off, "xml node %#04x truncated", h.Type)
		}
		return nil
	}

	switch h.Type {
	case chunk.TypeXMLStartNamespace, chunk.TypeXMLEndNamespace:
		if err := need(8); err != nil {
			return nil, err
		}
		return &Namespace{
			NodeHeader: hdr,
			End:        h.Type == chunk.TypeXMLEndNamespace,
			Prefix:     chunk.U32(b, body),
			URI:        chunk.U32(b, body+4),
		}, nil
	case chunk.TypeXMLEndElement:
		if err := need(8); err != nil {
			return nil, err
		}
		return &EndElement{NodeHeader: hdr, NS: chunk.U32(b, body), Name: chunk.U32(b, body+4)}, nil
	case chunk.TypeXMLCData:
		if err := need(4 + chunk.ValueSize); err != nil {
			return nil, err
		}
		v, err := chunk.ReadValue(b, body+4)
		if err != nil {
			return nil, err
		}
		return &CData{NodeHeader: hdr, Data: chunk.U32(b, body), Value: v}, nil
	}

	if err := need(attrExtSize); err != nil {
		return nil, err
	}
	el := &StartElement{
		NodeHeader: hdr,
		NS:         chunk.U32(b, body),
		Name:       chunk.U32(b, body+4),
		IDIndex:    chunk.U16(b, body+14),
		ClassIndex: chunk.U16(b, body+16),
		StyleIndex: chunk.U16(b, body+18),
	}
	start := int(chunk.U16(b, body+8))
	size := int(chunk.U16(b, body+10))
	count := int(chunk.U16(b, body+12))
	if start < attrExtSize || size != attrSize {
		return nil, chunk.Errorf(off, "unsupported attribute layout (start %d, size %d)", start, size)
	}
	if err := need(start + count*size); err != nil {
		return nil, err
	}
	el.gap = append([]byte(nil), b[body+attrExtSize:body+start]...)
	for i := range count {
		a := body + start + i*size
		v, err := chunk.ReadValue(b, a+12)
		if err != nil {
			return nil, err
		}
		el.Attrs = append(el.Attrs, &Attribute{
			NS:       chunk.U32(b, a),
			Name:     chunk.U32(b, a+4),
			RawValue: chunk.U32(b, a+8),
			Value:    v,
		})
	}
	if body+start+count*size != end {
		return nil, chunk.Errorf(off, "start element has %d trailing bytes", end-(body+start+count*size))
	}
	return el, nil
}

// Encode serializes the document. All chunk sizes are recomputed.
func (d *Document) Encode() []byte {
	w := chunk.NewWriter(4096)
	mark := w.Begin(chunk.TypeXML, chunk.HeaderSize)
	d.Pool.Encode(w)
	if d.hasResourceMap || len(d.ResourceMap) > 0 {
		rm := w.Begin(chunk.TypeXMLResourceMap, chunk.HeaderSize)
		for _, id := range d.ResourceMap {
			w.U32(id)
		}
		w.End(rm)
	}
	for _, n := range d.Nodes {
		n.encode(w)
	}
	w.End(mark)
	return w.Result()
}

func (h NodeHeader) begin(w *chunk.Writer, typ uint16) int {
	mark := w.Begin(typ, nodeHeaderSize)
	w.U32(h.Line)
	w.U32(h.Comment)
	return mark
}

func (n *Namespace) encode(w *chunk.Writer) {
	typ := chunk.TypeXMLStartNamespace
	if n.End {
		typ = chunk.TypeXMLEndNamespace
	}
	mark := n.begin(w, typ)
	w.U32(n.Prefix)
	w.U32(n.URI)
	w.End(mark)
}

func (e *StartElement) encode(w *chunk.Writer) {
	mark := e.begin(w, chunk.TypeXMLStartElement)
	w.U32(e.NS)
	w.U32(e.Name)
	w.U16(uint16(attrExtSize + len(e.gap)))
	w.U16(attrSize)
	w.U16(uint16(len(e.Attrs)))
	w.U16(e.IDIndex)
	w.U16(e.ClassIndex)
	w.U16(e.StyleIndex)
	w.Bytes(e.gap)
	for _, a := range e.Attrs {
		w.U32(a.NS)
		w.U32(a.Name)
		w.U32(a.RawValue)
		a.Value.Encode(w)
	}
	w.End(mark)
}

func (e *EndElement) encode(w *chunk.Writer) {
	mark := e.begin(w, chunk.TypeXMLEndElement)
	w.U32(e.NS)
	w.U32(e.Name)
	w.End(mark)
}

func (c *CData) encode(w *chunk.Writer) {
	mark := c.begin(w, chunk.TypeXMLCData)
	w.U32(c.Data)
	c.Value.Encode(w)
	w.End(mark)
}
