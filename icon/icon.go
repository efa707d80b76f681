// Package icon replaces the launcher icon of a compiled application.
//
// Adaptive icons get a background color resource, the new foreground and a
// monochrome layer (themed icons). Legacy bitmap icons are overwritten.
package icon

import (
	"fmt"
	"path"
	"slices"

	"github.com/pithecene-io/modpatch/arsc"
	"github.com/pithecene-io/modpatch/axml"
	"github.com/pithecene-io/modpatch/chunk"
	"github.com/pithecene-io/modpatch/manifest"
)

// Resource and file names added to the table.
const (
	BackgroundName = "modpatch_icon_background"
	ForegroundName = "modpatch_icon_foreground"
	TableEntry     = "resources.arsc"
)

// Store is the archive view the patcher reads and writes.
type Store interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}

// Options selects the replacement icon.
type Options struct {
	// Foreground is a PNG image. Empty keeps the existing foreground.
	Foreground []byte
	// Background is an ARGB color for adaptive icon backgrounds.
	Background uint32
}

// Result lists the rewritten archive entries.
type Result struct {
	Adaptive   []string
	Legacy     []string
	Background chunk.ResID
	Foreground chunk.ResID
}

// Patch rewrites the icons referenced by icons. Missing icon references are
// not an error; the result is then empty.
func Patch(s Store, icons manifest.IconInfo, opts Options) (Result, error) {
	var res Result
	ids := iconIDs(icons)
	if len(ids) == 0 {
		return res, nil
	}
	b, err := s.ReadFile(TableEntry)
	if err != nil {
		return res, err
	}
	tbl, err := arsc.Parse(b)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", TableEntry, err)
	}
	pkg := tbl.Package(ids[0].Package())
	if pkg == nil {
		return res, fmt.Errorf("%w: icon %s: no package", arsc.ErrResourceNotFound, ids[0])
	}

	files := make(map[string]bool)
	for _, id := range ids {
		names, err := tbl.ResolveFileNames(id)
		if err != nil {
			return res, fmt.Errorf("icon %s: %w", id, err)
		}
		for _, p := range names {
			files[p] = true
		}
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var adaptive, legacy []string
	for _, p := range paths {
		if path.Ext(p) == ".xml" {
			adaptive = append(adaptive, p)
		} else {
			legacy = append(legacy, p)
		}
	}

	if len(adaptive) > 0 {
		if res.Background, err = pkg.AddColorResource(BackgroundName, opts.Background); err != nil {
			return res, err
		}
		if len(opts.Foreground) > 0 {
			if res.Foreground, err = foregroundResource(s, tbl, pkg, ids[0], opts.Foreground); err != nil {
				return res, err
			}
		}
		for _, p := range adaptive {
			ok, err := patchAdaptive(s, p, res.Background, res.Foreground)
			if err != nil {
				return res, fmt.Errorf("icon %s: %w", p, err)
			}
			if ok {
				res.Adaptive = append(res.Adaptive, p)
			}
		}
	}
	if len(opts.Foreground) > 0 {
		for _, p := range legacy {
			if err := s.WriteFile(p, opts.Foreground); err != nil {
				return res, err
			}
			res.Legacy = append(res.Legacy, p)
		}
	}
	if err := s.WriteFile(TableEntry, tbl.Encode()); err != nil {
		return res, err
	}
	return res, nil
}

func iconIDs(icons manifest.IconInfo) []chunk.ResID {
	var ids []chunk.ResID
	for _, id := range []chunk.ResID{icons.Icon, icons.RoundIcon} {
		if !id.IsZero() && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// foregroundResource writes the image next to the icon's own type and
// registers it as a file resource.
func foregroundResource(s Store, tbl *arsc.Table, p *arsc.Package, icon chunk.ResID, png []byte) (chunk.ResID, error) {
	typeName := p.TypeName(icon.Type())
	file := "res/" + typeName + "/" + ForegroundName + ".png"
	if err := s.WriteFile(file, png); err != nil {
		return 0, err
	}
	pred := arsc.AnyConfig
	for _, ty := range p.Types(icon.Type()) {
		if ty.Config.IsDefault() {
			pred = func(c arsc.Config) bool { return c.IsDefault() }
			break
		}
	}
	return tbl.AddFileResource(p, typeName, ForegroundName, pred, file)
}

// patchAdaptive points the layers of an <adaptive-icon> at the new
// resources. It reports false for drawables of any other kind.
func patchAdaptive(s Store, name string, bg, fg chunk.ResID) (bool, error) {
	b, err := s.ReadFile(name)
	if err != nil {
		return false, err
	}
	d, err := axml.Parse(b)
	if err != nil {
		return false, err
	}
	root, _, err := d.FindElement("adaptive-icon")
	if err != nil {
		return false, nil
	}

	setLayer(d, root, "background", bg)
	if !fg.IsZero() {
		setLayer(d, root, "foreground", fg)
	}
	mono := fg
	if mono.IsZero() {
		mono = layerDrawable(d, root, "foreground")
	}
	if !mono.IsZero() {
		setLayer(d, root, "monochrome", mono)
	}
	return true, s.WriteFile(name, d.Encode())
}

func drawableAttr(id chunk.ResID) axml.AttrSpec {
	return axml.ValueAttr(axml.AndroidNS, "drawable", axml.AttrDrawable,
		chunk.Value{Type: chunk.ValueReference, Data: uint32(id)})
}

// setLayer sets android:drawable on the named child of root, inserting the
// child as the last layer when it is missing.
func setLayer(d *axml.Document, root int, layer string, id chunk.ResID) {
	if _, el, err := d.FindChild(root, layer); err == nil {
		d.SetAttribute(el, drawableAttr(id))
		return
	}
	end, err := d.EndOf(root)
	if err != nil {
		return
	}
	d.InsertElementPair(end-1, "", layer, []axml.AttrSpec{drawableAttr(id)})
}

func layerDrawable(d *axml.Document, root int, layer string) chunk.ResID {
	_, el, err := d.FindChild(root, layer)
	if err != nil {
		return 0
	}
	a, err := d.GetAttributeByID(el, axml.AttrDrawable)
	if err != nil || a.Value.Type != chunk.ValueReference {
		return 0
	}
	return chunk.ResID(a.Value.Data)
}
