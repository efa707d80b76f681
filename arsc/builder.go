package arsc

import (
	"unicode/utf16"

	"github.com/pithecene-io/modpatch/chunk"
)

// New returns an empty table with a UTF-8 global string pool.
func New() *Table {
	pool := chunk.NewStringPool(true)
	return &Table{Pool: pool, children: []node{poolNode{pool}}}
}

// NewPackage appends an empty package.
func (t *Table) NewPackage(id uint8, name string) *Package {
	p := &Package{
		ID:          uint32(id),
		name:        make([]byte, packageNameSize),
		headerSize:  packageHeaderSize,
		TypeStrings: chunk.NewStringPool(false),
		KeyStrings:  chunk.NewStringPool(true),
		children:    []node{typePoolNode{}, keyPoolNode{}},
	}
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		if 2*i+2 >= packageNameSize {
			break
		}
		p.name[2*i] = byte(u)
		p.name[2*i+1] = byte(u >> 8)
	}
	t.Packages = append(t.Packages, p)
	t.children = append(t.children, p)
	return p
}

// NewType declares type name with one empty variant per config.
// It returns the new type id.
func (p *Package) NewType(name string, configs ...Config) uint8 {
	p.TypeStrings.AddString(name, false)
	id := uint8(p.TypeStrings.Len()) + uint8(p.TypeIDOffset)
	p.LastPublicType = uint32(p.TypeStrings.Len())
	p.children = append(p.children, &TypeSpec{ID: id, Res1: uint16(len(configs))})
	for _, c := range configs {
		p.children = append(p.children, &Type{ID: id, Config: c})
	}
	return id
}
