// Package manifest rewrites a compiled AndroidManifest.xml so the patched
// application installs next to the original one.
package manifest

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/modpatch/axml"
	"github.com/pithecene-io/modpatch/chunk"
)

// Compile SDK values written to the manifest element.
const (
	CompileSDKVersion         = 23
	CompileSDKVersionCodename = "6.0-2438415"
)

// Permission names touched by the patcher.
const (
	PermissionManageExternalStorage = "android.permission.MANAGE_EXTERNAL_STORAGE"
	PermissionReadExternalStorage   = "android.permission.READ_EXTERNAL_STORAGE"
	PermissionWriteExternalStorage  = "android.permission.WRITE_EXTERNAL_STORAGE"
)

// Options selects the identity of the patched application.
type Options struct {
	PackageName string
	AppName     string
	Debuggable  bool
}

// Patch applies the manifest edits and returns the re-encoded document.
// A missing <manifest package> or <application> element fails the patch.
func Patch(b []byte, opts Options) ([]byte, error) {
	d, err := axml.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	mi, root, err := d.FindElement("manifest")
	if err != nil {
		return nil, err
	}
	pkg, err := d.GetAttribute(root, "package")
	if err != nil {
		return nil, err
	}
	original, ok := d.StringValue(pkg)
	if !ok {
		return nil, chunk.Errorf(0, "manifest package attribute is not a string")
	}
	d.SetStringValue(pkg, opts.PackageName)
	d.SetAttribute(root, axml.ValueAttr(axml.AndroidNS, "compileSdkVersion", axml.AttrCompileSdkVersion,
		chunk.Value{Type: chunk.ValueIntDec, Data: CompileSDKVersion}))
	d.SetAttribute(root, axml.StringAttr(axml.AndroidNS, "compileSdkVersionCodename", axml.AttrCompileSdkVersionCodename,
		CompileSDKVersionCodename))

	_, app, err := d.FindChild(mi, "application")
	if err != nil {
		return nil, err
	}
	patchApplication(d, app, opts)
	renameAuthorities(d, original, opts.PackageName)
	renamePermissions(d, original, opts.PackageName)
	dropStorageMaxSdk(d)

	if !hasPermission(d, PermissionManageExternalStorage) {
		appIdx, _, err := d.FindChild(mi, "application")
		if err != nil {
			return nil, err
		}
		d.InsertElementPair(appIdx-1, "", "uses-permission", []axml.AttrSpec{
			axml.StringAttr(axml.AndroidNS, "name", axml.AttrName, PermissionManageExternalStorage),
		})
	}
	return d.Encode(), nil
}

func patchApplication(d *axml.Document, app *axml.StartElement, opts Options) {
	d.SetAttribute(app, axml.StringAttr(axml.AndroidNS, "label", axml.AttrLabel, opts.AppName))
	d.SetAttribute(app, axml.ValueAttr(axml.AndroidNS, "debuggable", axml.AttrDebuggable, chunk.Bool(opts.Debuggable)))
	d.SetAttribute(app, axml.ValueAttr(axml.AndroidNS, "usesCleartextTraffic", axml.AttrUsesCleartextTraffic, chunk.Bool(true)))
	d.SetAttribute(app, axml.ValueAttr(axml.AndroidNS, "requestLegacyExternalStorage", axml.AttrRequestLegacyExternalStorage, chunk.Bool(true)))
	d.RemoveAttribute(app, "networkSecurityConfig")
}

// renameAuthorities rewrites every provider authority that embeds the
// original package name. Authorities must be unique device-wide.
func renameAuthorities(d *axml.Document, from, to string) {
	if from == to {
		return
	}
	for _, i := range d.FindElements("provider") {
		el := d.Element(i)
		a, err := d.GetAttributeByID(el, axml.AttrAuthorities)
		if err != nil {
			continue
		}
		if v, ok := d.StringValue(a); ok && strings.Contains(v, from) {
			d.SetStringValue(a, strings.ReplaceAll(v, from, to))
		}
	}
}

// renamePermissions moves permissions declared under the original package
// name into the new one. Two installed packages cannot define the same
// permission.
func renamePermissions(d *axml.Document, from, to string) {
	if from == to {
		return
	}
	prefix := from + "."
	for _, tag := range []string{"permission", "uses-permission"} {
		for _, i := range d.FindElements(tag) {
			a, err := d.GetAttributeByID(d.Element(i), axml.AttrName)
			if err != nil {
				continue
			}
			if v, ok := d.StringValue(a); ok && strings.HasPrefix(v, prefix) {
				d.SetStringValue(a, to+"."+strings.TrimPrefix(v, prefix))
			}
		}
	}
}

// hasPermission reports whether name is requested.
func hasPermission(d *axml.Document, name string) bool {
	for _, i := range d.FindElements("uses-permission") {
		if permissionName(d, d.Element(i)) == name {
			return true
		}
	}
	return false
}

// dropStorageMaxSdk lifts the maxSdkVersion cap from storage permissions.
func dropStorageMaxSdk(d *axml.Document) {
	for _, i := range d.FindElements("uses-permission") {
		el := d.Element(i)
		switch permissionName(d, el) {
		case PermissionReadExternalStorage, PermissionWriteExternalStorage:
			d.RemoveAttribute(el, "maxSdkVersion")
		}
	}
}

func permissionName(d *axml.Document, el *axml.StartElement) string {
	a, err := d.GetAttributeByID(el, axml.AttrName)
	if err != nil {
		return ""
	}
	v, _ := d.StringValue(a)
	return v
}
