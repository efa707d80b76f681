package axml

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/modpatch/chunk"
)

// ErrAttributeNotFound is returned when an element lacks a requested attribute.
var ErrAttributeNotFound = errors.New("attribute not found")

// ErrElementNotFound is returned when a required element is absent.
var ErrElementNotFound = errors.New("element not found")

// Name returns the element's local name.
func (d *Document) Name(el *StartElement) string {
	return d.Pool.Get(el.Name)
}

// AttrName returns the attribute's local name.
func (d *Document) AttrName(a *Attribute) string {
	return d.Pool.Get(a.Name)
}

// AttrResID returns the resource id bound to the attribute name, or 0.
func (d *Document) AttrResID(a *Attribute) chunk.ResID {
	if int(a.Name) < len(d.ResourceMap) {
		return chunk.ResID(d.ResourceMap[a.Name])
	}
	return 0
}

// StringValue returns the attribute's string value, if it is string typed.
func (d *Document) StringValue(a *Attribute) (string, bool) {
	if a.Value.Type != chunk.ValueString {
		return "", false
	}
	return d.Pool.Get(a.Value.Data), true
}

// FindElement returns the index and node of the first element named name.
// Namespaces are ignored.
func (d *Document) FindElement(name string) (int, *StartElement, error) {
	for i, n := range d.Nodes {
		if el, ok := n.(*StartElement); ok && d.Name(el) == name {
			return i, el, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: <%s>", ErrElementNotFound, name)
}

// FindElements returns the indices of every element named name, in document order.
func (d *Document) FindElements(name string) []int {
	var out []int
	for i, n := range d.Nodes {
		if el, ok := n.(*StartElement); ok && d.Name(el) == name {
			out = append(out, i)
		}
	}
	return out
}

// Element returns the start element at index i, or nil.
func (d *Document) Element(i int) *StartElement {
	if i < 0 || i >= len(d.Nodes) {
		return nil
	}
	el, _ := d.Nodes[i].(*StartElement)
	return el
}

// EndOf returns the index of the end element matching the start element at start.
func (d *Document) EndOf(start int) (int, error) {
	if d.Element(start) == nil {
		return -1, fmt.Errorf("node %d is not a start element", start)
	}
	depth := 0
	for i := start; i < len(d.Nodes); i++ {
		switch d.Nodes[i].(type) {
		case *StartElement:
			depth++
		case *EndElement:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, chunk.Errorf(0, "element at node %d is never closed", start)
}

// Children returns the indices of the direct child elements of parent.
func (d *Document) Children(parent int) ([]int, error) {
	end, err := d.EndOf(parent)
	if err != nil {
		return nil, err
	}
	var out []int
	depth := 0
	for i := parent + 1; i < end; i++ {
		switch d.Nodes[i].(type) {
		case *StartElement:
			if depth == 0 {
				out = append(out, i)
			}
			depth++
		case *EndElement:
			depth--
		}
	}
	return out, nil
}

// FindChild returns the first direct child of parent named name.
func (d *Document) FindChild(parent int, name string) (int, *StartElement, error) {
	children, err := d.Children(parent)
	if err != nil {
		return -1, nil, err
	}
	for _, i := range children {
		if el := d.Element(i); d.Name(el) == name {
			return i, el, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: <%s> under <%s>", ErrElementNotFound, name, d.Name(d.Element(parent)))
}

// GetAttribute returns the attribute of el named name.
func (d *Document) GetAttribute(el *StartElement, name string) (*Attribute, error) {
	for _, a := range el.Attrs {
		if d.AttrName(a) == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on <%s>", ErrAttributeNotFound, name, d.Name(el))
}

// GetAttributeByID returns the attribute of el bound to resource id id.
func (d *Document) GetAttributeByID(el *StartElement, id chunk.ResID) (*Attribute, error) {
	for _, a := range el.Attrs {
		if d.AttrResID(a) == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on <%s>", ErrAttributeNotFound, id, d.Name(el))
}
