package axml

import (
	"slices"

	"github.com/pithecene-io/modpatch/chunk"
)

// AttrSpec describes an attribute to add or replace.
type AttrSpec struct {
	// NS is the namespace URI, or "" for none.
	NS string
	// Name is the local name.
	Name string
	// ResID is the attribute resource id, or 0 for unbound attributes.
	ResID chunk.ResID
	// Value is the typed value. For ValueString, Str is used instead of Value.Data.
	Value chunk.Value
	// Str is the string value when Value.Type is ValueString.
	Str string
}

// StringAttr returns a string-typed attribute spec.
func StringAttr(ns, name string, id chunk.ResID, s string) AttrSpec {
	return AttrSpec{NS: ns, Name: name, ResID: id, Value: chunk.Value{Type: chunk.ValueString}, Str: s}
}

// ValueAttr returns a non-string attribute spec.
func ValueAttr(ns, name string, id chunk.ResID, v chunk.Value) AttrSpec {
	return AttrSpec{NS: ns, Name: name, ResID: id, Value: v}
}

// SetAttributeValue replaces a's typed value in place.
// String-typed values also update the raw value reference.
func (d *Document) SetAttributeValue(a *Attribute, typ chunk.ValueType, data uint32) {
	a.Value = chunk.Value{Type: typ, Data: data}
	if typ == chunk.ValueString {
		a.RawValue = data
	} else {
		a.RawValue = NoIndex
	}
}

// SetStringValue points a at the pool string s, adding it when needed.
func (d *Document) SetStringValue(a *Attribute, s string) {
	d.SetAttributeValue(a, chunk.ValueString, d.Pool.AddString(s, true))
}

// NewAttribute resolves spec against the document's pools.
func (d *Document) NewAttribute(spec AttrSpec) *Attribute {
	a := &Attribute{NS: NoIndex, Name: d.attrNameIndex(spec.Name, spec.ResID)}
	if spec.NS != "" {
		a.NS = d.Pool.AddString(spec.NS, true)
	}
	if spec.Value.Type == chunk.ValueString {
		d.SetStringValue(a, spec.Str)
	} else {
		d.SetAttributeValue(a, spec.Value.Type, spec.Value.Data)
	}
	return a
}

// SetAttribute replaces the value of the matching attribute on el or inserts
// a new one. Attributes bound to resource ids match by id, others by name.
// New attributes keep the element's attributes ordered by resource id.
func (d *Document) SetAttribute(el *StartElement, spec AttrSpec) *Attribute {
	var existing *Attribute
	if spec.ResID != 0 {
		existing, _ = d.GetAttributeByID(el, spec.ResID)
	} else {
		existing, _ = d.GetAttribute(el, spec.Name)
	}
	if existing != nil {
		if spec.Value.Type == chunk.ValueString {
			d.SetStringValue(existing, spec.Str)
		} else {
			d.SetAttributeValue(existing, spec.Value.Type, spec.Value.Data)
		}
		return existing
	}

	a := d.NewAttribute(spec)
	pos := len(el.Attrs)
	if spec.ResID != 0 {
		pos = slices.IndexFunc(el.Attrs, func(o *Attribute) bool {
			id := d.AttrResID(o)
			return id == 0 || id > spec.ResID
		})
		if pos < 0 {
			pos = len(el.Attrs)
		}
	}
	el.Attrs = slices.Insert(el.Attrs, pos, a)
	for _, idx := range []*uint16{&el.IDIndex, &el.ClassIndex, &el.StyleIndex} {
		if *idx != 0 && int(*idx)-1 >= pos {
			*idx++
		}
	}
	return a
}

// RemoveAttribute deletes the attribute named name from el.
// It reports whether an attribute was removed.
func (d *Document) RemoveAttribute(el *StartElement, name string) bool {
	pos := slices.IndexFunc(el.Attrs, func(a *Attribute) bool { return d.AttrName(a) == name })
	if pos < 0 {
		return false
	}
	el.Attrs = slices.Delete(el.Attrs, pos, pos+1)
	for _, idx := range []*uint16{&el.IDIndex, &el.ClassIndex, &el.StyleIndex} {
		switch {
		case *idx == 0:
		case int(*idx)-1 == pos:
			*idx = 0
		case int(*idx)-1 > pos:
			*idx--
		}
	}
	return true
}

// InsertElementPair inserts a new empty element directly after node index
// after and returns the indices of its start and end markers. The caller
// chooses the position, typically just before a parent's end element.
func (d *Document) InsertElementPair(after int, ns, name string, attrs []AttrSpec) (int, int) {
	var line uint32
	if after >= 0 && after < len(d.Nodes) {
		line = nodeLine(d.Nodes[after])
	}
	nsIdx := NoIndex
	if ns != "" {
		nsIdx = d.Pool.AddString(ns, true)
	}
	nameIdx := d.Pool.AddString(name, true)

	start := &StartElement{
		NodeHeader: NodeHeader{Line: line, Comment: NoIndex},
		NS:         nsIdx,
		Name:       nameIdx,
	}
	for _, spec := range attrs {
		d.SetAttribute(start, spec)
	}
	end := &EndElement{
		NodeHeader: NodeHeader{Line: line, Comment: NoIndex},
		NS:         nsIdx,
		Name:       nameIdx,
	}
	d.Nodes = slices.Insert(d.Nodes, after+1, Node(start), Node(end))
	return after + 1, after + 2
}

// attrNameIndex returns a pool index for an attribute name. Bound names
// reuse an index already mapped to id; otherwise the name is appended and
// the resource map is extended so the new index maps to id.
func (d *Document) attrNameIndex(name string, id chunk.ResID) uint32 {
	if id == 0 {
		for i := range d.Pool.Len() {
			if d.Pool.Get(uint32(i)) == name && (i >= len(d.ResourceMap) || d.ResourceMap[i] == 0) {
				return uint32(i)
			}
		}
		return d.Pool.AddString(name, false)
	}
	for i, rid := range d.ResourceMap {
		if chunk.ResID(rid) == id && d.Pool.Get(uint32(i)) == name {
			return uint32(i)
		}
	}
	idx := d.Pool.AddString(name, false)
	for len(d.ResourceMap) <= int(idx) {
		d.ResourceMap = append(d.ResourceMap, 0)
	}
	d.ResourceMap[idx] = uint32(id)
	return idx
}

func nodeLine(n Node) uint32 {
	switch v := n.(type) {
	case *StartElement:
		return v.Line
	case *EndElement:
		return v.Line
	case *Namespace:
		return v.Line
	case *CData:
		return v.Line
	}
	return 0
}
