package arsc

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/modpatch/chunk"
)

// ErrResourceNotFound is returned when a resource, type or variant is absent.
var ErrResourceNotFound = errors.New("resource not found")

// AnyConfig matches every configuration.
func AnyConfig(Config) bool { return true }

// AddResource allocates a new entry of type typeName and appends exactly one
// slot to every configuration variant of that type: an entry with the given
// value where pred holds, an empty slot elsewhere.
func (p *Package) AddResource(typeName, resourceName string, pred func(Config) bool, typ chunk.ValueType, data uint32) (chunk.ResID, error) {
	id, ok := p.TypeID(typeName)
	if !ok {
		return 0, fmt.Errorf("%w: type %q in package %#x", ErrResourceNotFound, typeName, p.ID)
	}
	spec := p.Spec(id)
	if spec == nil {
		return 0, fmt.Errorf("%w: no type spec for %q", ErrResourceNotFound, typeName)
	}
	index := spec.EntryCount()
	if index > 0xffff {
		return 0, fmt.Errorf("type %q is full", typeName)
	}
	variants := p.Types(id)
	for _, t := range variants {
		if len(t.Slots) > index {
			return 0, chunk.Errorf(0, "type %q variant %q has %d slots, spec declares %d",
				typeName, t.Config, len(t.Slots), index)
		}
	}
	key := p.KeyStrings.AddString(resourceName, true)
	spec.Flags = append(spec.Flags, 0)
	for _, t := range variants {
		// Variants written short of the spec count are padded first.
		for len(t.Slots) < index {
			t.Append(nil)
		}
		if pred(t.Config) {
			t.Append(NewEntry(key, chunk.Value{Type: typ, Data: data}))
		} else {
			t.Append(nil)
		}
	}
	return chunk.NewResID(uint8(p.ID), id, uint16(index)), nil
}

// AddColorResource adds a color resource with the same ARGB value in every
// configuration of the color type. A package without colors gets the type
// with a single default configuration.
func (p *Package) AddColorResource(name string, argb uint32) (chunk.ResID, error) {
	if _, ok := p.TypeID("color"); !ok {
		p.NewType("color", NewConfig(ConfigSpec{}))
	}
	return p.AddResource("color", name, AnyConfig, chunk.ValueIntColorARGB8, argb)
}

// AddFileResource adds a file-backed resource whose value is path, stored in
// the global string pool.
func (t *Table) AddFileResource(p *Package, typeName, name string, pred func(Config) bool, path string) (chunk.ResID, error) {
	idx := t.Pool.AddString(path, true)
	return p.AddResource(typeName, name, pred, chunk.ValueString, idx)
}

// lookup returns the package declaring id.
func (t *Table) lookup(id chunk.ResID) (*Package, error) {
	p := t.Package(id.Package())
	if p == nil {
		return nil, fmt.Errorf("%w: %s: no package %#02x", ErrResourceNotFound, id, id.Package())
	}
	spec := p.Spec(id.Type())
	if spec == nil || int(id.Entry()) >= spec.EntryCount() {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	return p, nil
}

// GetResourceFileName returns the file path stored for id in the variant
// whose qualifier string is configName ("" for the default configuration).
func (t *Table) GetResourceFileName(id chunk.ResID, configName string) (string, error) {
	p, err := t.lookup(id)
	if err != nil {
		return "", err
	}
	for _, ty := range p.Types(id.Type()) {
		if ty.Config.String() != configName {
			continue
		}
		e := ty.Entry(int(id.Entry()))
		switch {
		case e == nil:
			return "", fmt.Errorf("%w: %s has no value in config %q", ErrResourceNotFound, id, configName)
		case e.IsComplex():
			return "", fmt.Errorf("%s in config %q is a complex resource", id, configName)
		case e.Value.Type != chunk.ValueString:
			return "", fmt.Errorf("%s in config %q is not a string value (type %#02x)", id, configName, uint8(e.Value.Type))
		}
		return t.Pool.Get(e.Value.Data), nil
	}
	return "", fmt.Errorf("%w: %s: no config %q", ErrResourceNotFound, id, configName)
}

// ResolveFileNames returns every string value of id keyed by config name.
func (t *Table) ResolveFileNames(id chunk.ResID) (map[string]string, error) {
	p, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, ty := range p.Types(id.Type()) {
		e := ty.Entry(int(id.Entry()))
		if e == nil || e.IsComplex() || e.Value.Type != chunk.ValueString {
			continue
		}
		out[ty.Config.String()] = t.Pool.Get(e.Value.Data)
	}
	return out, nil
}

// FindResource returns the id of the resource typeName/name.
func (t *Table) FindResource(typeName, name string) (chunk.ResID, bool) {
	for _, p := range t.Packages {
		tid, ok := p.TypeID(typeName)
		if !ok {
			continue
		}
		for _, ty := range p.Types(tid) {
			for i, e := range ty.Slots {
				if e != nil && p.KeyName(e) == name {
					return chunk.NewResID(uint8(p.ID), tid, uint16(i)), true
				}
			}
		}
	}
	return 0, false
}

// Value returns the simple value of id in the variant named configName.
func (t *Table) Value(id chunk.ResID, configName string) (chunk.Value, error) {
	p, err := t.lookup(id)
	if err != nil {
		return chunk.Value{}, err
	}
	for _, ty := range p.Types(id.Type()) {
		if ty.Config.String() != configName {
			continue
		}
		if e := ty.Entry(int(id.Entry())); e != nil && !e.IsComplex() {
			return e.Value, nil
		}
		break
	}
	return chunk.Value{}, fmt.Errorf("%w: %s in config %q", ErrResourceNotFound, id, configName)
}
