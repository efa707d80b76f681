package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pithecene-io/modpatch/axml"
	"github.com/pithecene-io/modpatch/chunk"
)

const (
	basePackage = "com.example.game"
	modPackage  = "com.example.game.modded"
)

func ref(id uint32) chunk.Value { return chunk.Value{Type: chunk.ValueReference, Data: id} }

func intDec(v uint32) chunk.Value { return chunk.Value{Type: chunk.ValueIntDec, Data: v} }

func permission(b *axml.Builder, name string, extra ...axml.AttrSpec) {
	attrs := append([]axml.AttrSpec{axml.StringAttr(axml.AndroidNS, "name", axml.AttrName, name)}, extra...)
	b.Start("uses-permission", attrs...).End()
}

// testManifest returns a compiled manifest resembling a release build.
func testManifest(t *testing.T, withApp bool, perms ...string) []byte {
	t.Helper()
	b := axml.NewBuilder().Namespace("android", axml.AndroidNS)
	b.Start("manifest",
		axml.StringAttr("", "package", 0, basePackage),
		axml.ValueAttr(axml.AndroidNS, "versionCode", axml.AttrVersionCode, intDec(42)),
		axml.StringAttr(axml.AndroidNS, "versionName", axml.AttrVersionName, "1.4.2"),
		axml.ValueAttr(axml.AndroidNS, "compileSdkVersion", axml.AttrCompileSdkVersion, intDec(34)),
		axml.StringAttr(axml.AndroidNS, "compileSdkVersionCodename", axml.AttrCompileSdkVersionCodename, "14"),
	)
	b.Start("permission", axml.StringAttr(axml.AndroidNS, "name", axml.AttrName, basePackage+".DYNAMIC_RECEIVER_NOT_EXPORTED_PERMISSION")).End()
	permission(b, basePackage+".DYNAMIC_RECEIVER_NOT_EXPORTED_PERMISSION")
	permission(b, PermissionWriteExternalStorage,
		axml.ValueAttr(axml.AndroidNS, "maxSdkVersion", axml.AttrMaxSdkVersion, intDec(28)))
	for _, p := range perms {
		permission(b, p)
	}
	if withApp {
		b.Start("application",
			axml.StringAttr(axml.AndroidNS, "label", axml.AttrLabel, "Game"),
			axml.ValueAttr(axml.AndroidNS, "icon", axml.AttrIcon, ref(0x7f0d0000)),
			axml.ValueAttr(axml.AndroidNS, "debuggable", axml.AttrDebuggable, chunk.Bool(false)),
			axml.ValueAttr(axml.AndroidNS, "roundIcon", axml.AttrRoundIcon, ref(0x7f0d0001)),
			axml.ValueAttr(axml.AndroidNS, "networkSecurityConfig", axml.AttrNetworkSecurityConfig, ref(0x7f120000)),
		)
		b.Start("provider", axml.StringAttr(axml.AndroidNS, "authorities", axml.AttrAuthorities, basePackage+".fileprovider;"+basePackage+".init")).End()
		b.Start("provider", axml.StringAttr(axml.AndroidNS, "authorities", axml.AttrAuthorities, "com.other.lib")).End()
		b.End()
	}
	return b.Document().Encode()
}

func testOptions() Options {
	return Options{PackageName: modPackage, AppName: "Game (modded)", Debuggable: true}
}

func mustParse(t *testing.T, b []byte) *axml.Document {
	t.Helper()
	d, err := axml.Parse(b)
	if err != nil {
		t.Fatalf("axml.Parse: %v", err)
	}
	return d
}

func stringAttr(t *testing.T, d *axml.Document, el *axml.StartElement, id chunk.ResID) string {
	t.Helper()
	a, err := d.GetAttributeByID(el, id)
	if err != nil {
		t.Fatalf("attribute %s: %v", id, err)
	}
	s, ok := d.StringValue(a)
	if !ok {
		t.Fatalf("attribute %s is not a string", id)
	}
	return s
}

func permissionNames(d *axml.Document) []string {
	var out []string
	for _, i := range d.FindElements("uses-permission") {
		out = append(out, permissionName(d, d.Element(i)))
	}
	return out
}

func TestPatch(t *testing.T) {
	out, err := Patch(testManifest(t, true), testOptions())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	d := mustParse(t, out)

	mi, root, _ := d.FindElement("manifest")
	pkg, _ := d.GetAttribute(root, "package")
	if s, _ := d.StringValue(pkg); s != modPackage {
		t.Errorf("package = %q, want %q", s, modPackage)
	}
	sdk, _ := d.GetAttributeByID(root, axml.AttrCompileSdkVersion)
	if sdk.Value.Data != CompileSDKVersion {
		t.Errorf("compileSdkVersion = %d, want %d", sdk.Value.Data, CompileSDKVersion)
	}
	if s := stringAttr(t, d, root, axml.AttrCompileSdkVersionCodename); s != CompileSDKVersionCodename {
		t.Errorf("compileSdkVersionCodename = %q", s)
	}

	_, app, err := d.FindChild(mi, "application")
	if err != nil {
		t.Fatalf("FindChild(application): %v", err)
	}
	if s := stringAttr(t, d, app, axml.AttrLabel); s != "Game (modded)" {
		t.Errorf("label = %q", s)
	}
	for _, id := range []chunk.ResID{axml.AttrDebuggable, axml.AttrUsesCleartextTraffic, axml.AttrRequestLegacyExternalStorage} {
		a, err := d.GetAttributeByID(app, id)
		if err != nil {
			t.Errorf("attribute %s: %v", id, err)
			continue
		}
		if a.Value.Type != chunk.ValueIntBoolean || a.Value.Data != chunk.BoolTrue {
			t.Errorf("attribute %s = %+v, want true", id, a.Value)
		}
	}
	if _, err := d.GetAttribute(app, "networkSecurityConfig"); !errors.Is(err, axml.ErrAttributeNotFound) {
		t.Errorf("networkSecurityConfig should be removed, got %v", err)
	}

	providers := d.FindElements("provider")
	if got := stringAttr(t, d, d.Element(providers[0]), axml.AttrAuthorities); got != modPackage+".fileprovider;"+modPackage+".init" {
		t.Errorf("authorities = %q", got)
	}
	if got := stringAttr(t, d, d.Element(providers[1]), axml.AttrAuthorities); got != "com.other.lib" {
		t.Errorf("unrelated authorities = %q", got)
	}

	perms := permissionNames(d)
	want := []string{
		modPackage + ".DYNAMIC_RECEIVER_NOT_EXPORTED_PERMISSION",
		PermissionWriteExternalStorage,
		PermissionManageExternalStorage,
	}
	if len(perms) != len(want) {
		t.Fatalf("permissions = %v, want %v", perms, want)
	}
	for i := range want {
		if perms[i] != want[i] {
			t.Errorf("permission[%d] = %q, want %q", i, perms[i], want[i])
		}
	}
	write := d.Element(d.FindElements("uses-permission")[1])
	if _, err := d.GetAttributeByID(write, axml.AttrMaxSdkVersion); !errors.Is(err, axml.ErrAttributeNotFound) {
		t.Errorf("maxSdkVersion should be dropped from storage permission, got %v", err)
	}

	// The new permission sits directly before <application>.
	appIdx, _, _ := d.FindChild(mi, "application")
	if el := d.Element(appIdx - 2); el == nil || permissionName(d, el) != PermissionManageExternalStorage {
		t.Error("MANAGE_EXTERNAL_STORAGE should be inserted before <application>")
	}
}

func TestPatch_Idempotent(t *testing.T) {
	once, err := Patch(testManifest(t, true), testOptions())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	twice, err := Patch(once, testOptions())
	if err != nil {
		t.Fatalf("second Patch: %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("second patch changed the document: %d -> %d bytes", len(once), len(twice))
	}
}

func TestPatch_AppendsCompileSdk(t *testing.T) {
	b := axml.NewBuilder().Namespace("android", axml.AndroidNS)
	b.Start("manifest", axml.StringAttr("", "package", 0, basePackage))
	b.Start("application", axml.StringAttr(axml.AndroidNS, "label", axml.AttrLabel, "Game")).End()
	in := b.End().Document().Encode()

	out, err := Patch(in, testOptions())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	d := mustParse(t, out)
	_, root, _ := d.FindElement("manifest")
	sdk, err := d.GetAttributeByID(root, axml.AttrCompileSdkVersion)
	if err != nil || sdk.Value.Type != chunk.ValueIntDec || sdk.Value.Data != CompileSDKVersion {
		t.Errorf("compileSdkVersion = %+v, %v", sdk, err)
	}
	if s := stringAttr(t, d, root, axml.AttrCompileSdkVersionCodename); s != CompileSDKVersionCodename {
		t.Errorf("compileSdkVersionCodename = %q", s)
	}

	again, err := Patch(out, testOptions())
	if err != nil {
		t.Fatalf("second Patch: %v", err)
	}
	if !bytes.Equal(out, again) {
		t.Error("second patch changed a manifest that had no compile SDK attributes")
	}
}

func TestPatch_ExistingPermissionNotDuplicated(t *testing.T) {
	out, err := Patch(testManifest(t, true, PermissionManageExternalStorage), testOptions())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	n := 0
	for _, p := range permissionNames(mustParse(t, out)) {
		if p == PermissionManageExternalStorage {
			n++
		}
	}
	if n != 1 {
		t.Errorf("MANAGE_EXTERNAL_STORAGE appears %d times, want 1", n)
	}
}

func TestPatch_Errors(t *testing.T) {
	noPackage := axml.NewBuilder().Namespace("android", axml.AndroidNS).
		Start("manifest").Start("application").End().Document().Encode()

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"no application", testManifest(t, false), axml.ErrElementNotFound},
		{"no package", noPackage, axml.ErrAttributeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Patch(tt.in, testOptions()); !errors.Is(err, tt.want) {
				t.Errorf("Patch error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := Patch([]byte("not a manifest"), testOptions()); err == nil {
		t.Error("Patch of garbage should fail")
	}
}

func TestRead(t *testing.T) {
	info, err := Read(testManifest(t, true))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info.Package != basePackage || info.VersionCode != 42 || info.VersionName != "1.4.2" || info.Label != "Game" {
		t.Errorf("Read = %+v", info)
	}

	icons, err := ReadIconInfo(testManifest(t, true))
	if err != nil {
		t.Fatalf("ReadIconInfo: %v", err)
	}
	if icons.Icon != 0x7f0d0000 || icons.RoundIcon != 0x7f0d0001 {
		t.Errorf("ReadIconInfo = %+v", icons)
	}

	bare, err := ReadIconInfo(testManifest(t, false))
	if err != nil {
		t.Fatalf("ReadIconInfo without application: %v", err)
	}
	if bare != (IconInfo{}) {
		t.Errorf("ReadIconInfo without application = %+v, want zero", bare)
	}
}
