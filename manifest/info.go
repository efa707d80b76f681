package manifest

import (
	"fmt"

	"github.com/pithecene-io/modpatch/axml"
	"github.com/pithecene-io/modpatch/chunk"
)

// IconInfo holds the launcher icon references of <application>.
// Zero ids mean the attribute is absent or not a reference.
type IconInfo struct {
	Icon      chunk.ResID
	RoundIcon chunk.ResID
}

// Info summarizes a manifest.
type Info struct {
	Package     string
	VersionCode uint32
	VersionName string
	Label       string
	Icons       IconInfo
}

// ReadIconInfo returns the icon and round icon references.
func ReadIconInfo(b []byte) (IconInfo, error) {
	info, err := Read(b)
	if err != nil {
		return IconInfo{}, err
	}
	return info.Icons, nil
}

// Read decodes the fields of a manifest the patcher cares about.
func Read(b []byte) (Info, error) {
	d, err := axml.Parse(b)
	if err != nil {
		return Info{}, fmt.Errorf("parse manifest: %w", err)
	}
	mi, root, err := d.FindElement("manifest")
	if err != nil {
		return Info{}, err
	}
	var info Info
	if a, err := d.GetAttribute(root, "package"); err == nil {
		info.Package, _ = d.StringValue(a)
	}
	if a, err := d.GetAttributeByID(root, axml.AttrVersionCode); err == nil {
		info.VersionCode = a.Value.Data
	}
	if a, err := d.GetAttributeByID(root, axml.AttrVersionName); err == nil {
		info.VersionName, _ = d.StringValue(a)
	}

	_, app, err := d.FindChild(mi, "application")
	if err != nil {
		return info, nil
	}
	if a, err := d.GetAttributeByID(app, axml.AttrLabel); err == nil {
		info.Label, _ = d.StringValue(a)
	}
	info.Icons.Icon = reference(d, app, axml.AttrIcon)
	info.Icons.RoundIcon = reference(d, app, axml.AttrRoundIcon)
	return info, nil
}

func reference(d *axml.Document, el *axml.StartElement, id chunk.ResID) chunk.ResID {
	a, err := d.GetAttributeByID(el, id)
	if err != nil || a.Value.Type != chunk.ValueReference {
		return 0
	}
	return chunk.ResID(a.Value.Data)
}
