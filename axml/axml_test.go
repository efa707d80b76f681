package axml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"slices"
	"testing"

	"github.com/shogo82148/androidbinary"

	"github.com/pithecene-io/modpatch/chunk"
	"github.com/pithecene-io/modpatch/types"
)

// testManifest builds:
//
//	0 <ns android>
//	1   <manifest package>
//	2     <uses-permission android:name>
//	3     </uses-permission>
//	4     <application android:label android:debuggable>
//	5       <provider android:authorities>
//	6       </provider>
//	7     </application>
//	8   </manifest>
//	9 </ns>
func testManifest() *Document {
	b := NewBuilder().Namespace("android", AndroidNS)
	b.Start("manifest", StringAttr("", "package", 0, "com.example.app"))
	b.Start("uses-permission", StringAttr(AndroidNS, "name", AttrName, "android.permission.INTERNET")).End()
	b.Start("application",
		StringAttr(AndroidNS, "label", AttrLabel, "Example"),
		ValueAttr(AndroidNS, "debuggable", AttrDebuggable, chunk.Bool(false)),
	)
	b.Start("provider", StringAttr(AndroidNS, "authorities", AttrAuthorities, "com.example.app.files")).End()
	b.End()
	return b.Document()
}

func attrNames(d *Document, el *StartElement) []string {
	out := make([]string, 0, len(el.Attrs))
	for _, a := range el.Attrs {
		out = append(out, d.AttrName(a))
	}
	return out
}

func reparse(t *testing.T, d *Document) *Document {
	t.Helper()
	b := d.Encode()
	if got := chunk.U32(b, 4); int(got) != len(b) {
		t.Fatalf("document size field = %d, want %d", got, len(b))
	}
	out, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	first := testManifest().Encode()
	d, err := Parse(first)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(d.Nodes) != 10 {
		t.Fatalf("len(Nodes) = %d, want 10", len(d.Nodes))
	}
	second := d.Encode()
	if !bytes.Equal(first, second) {
		t.Errorf("round trip changed bytes: %d -> %d", len(first), len(second))
	}
}

func TestRoundTripPreservesUnknownChunks(t *testing.T) {
	d := testManifest()
	raw := &chunk.Raw{Data: []byte{0x05, 0x01, 0x08, 0x00, 0x0c, 0x00, 0x00, 0x00, 0xde, 0xad, 0xbe, 0xef}}
	d.Nodes = slices.Insert(d.Nodes, 1, Node(rawNode{raw}))

	got := reparse(t, d)
	r, ok := got.Nodes[1].(rawNode)
	if !ok {
		t.Fatalf("node 1 is %T, want rawNode", got.Nodes[1])
	}
	if !bytes.Equal(r.Data, raw.Data) {
		t.Errorf("raw data = %x, want %x", r.Data, raw.Data)
	}
}

func TestParse_Malformed(t *testing.T) {
	valid := testManifest().Encode()

	notXML := bytes.Clone(valid)
	notXML[0] = 0x02

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"wrong type", notXML},
		{"trailing bytes", append(bytes.Clone(valid), 0, 0, 0, 0)},
		{"truncated", valid[:40]},
		{"no string pool", []byte{0x03, 0x00, 0x08, 0x00, 0x08, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if !errors.Is(err, types.ErrFormat) {
				t.Errorf("Parse error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestFindElementAndNavigation(t *testing.T) {
	d := testManifest()

	idx, app, err := d.FindElement("application")
	if err != nil {
		t.Fatalf("FindElement: %v", err)
	}
	if idx != 4 || d.Name(app) != "application" {
		t.Errorf("FindElement = %d %q, want 4 application", idx, d.Name(app))
	}
	end, err := d.EndOf(idx)
	if err != nil || end != 7 {
		t.Errorf("EndOf(4) = %d, %v; want 7", end, err)
	}
	children, err := d.Children(1)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if !slices.Equal(children, []int{2, 4}) {
		t.Errorf("Children(1) = %v, want [2 4]", children)
	}
	if pi, _, err := d.FindChild(idx, "provider"); err != nil || pi != 5 {
		t.Errorf("FindChild(provider) = %d, %v; want 5", pi, err)
	}
	if _, _, err := d.FindChild(idx, "activity"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("FindChild(activity) error = %v, want ErrElementNotFound", err)
	}
	if _, _, err := d.FindElement("service"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("FindElement(service) error = %v, want ErrElementNotFound", err)
	}
	if _, err := d.EndOf(3); err == nil {
		t.Error("EndOf on an end element should fail")
	}
	if got := d.FindElements("uses-permission"); !slices.Equal(got, []int{2}) {
		t.Errorf("FindElements = %v, want [2]", got)
	}
}

func TestGetAttribute(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")

	label, err := d.GetAttribute(app, "label")
	if err != nil {
		t.Fatalf("GetAttribute(label): %v", err)
	}
	if s, ok := d.StringValue(label); !ok || s != "Example" {
		t.Errorf("label = %q, %v; want Example", s, ok)
	}
	if d.AttrResID(label) != AttrLabel {
		t.Errorf("label res id = %s, want %s", d.AttrResID(label), AttrLabel)
	}

	if _, err := d.GetAttribute(app, "icon"); !errors.Is(err, ErrAttributeNotFound) {
		t.Errorf("GetAttribute(icon) error = %v, want ErrAttributeNotFound", err)
	}
	if _, err := d.GetAttributeByID(app, AttrIcon); !errors.Is(err, ErrAttributeNotFound) {
		t.Errorf("GetAttributeByID(icon) error = %v, want ErrAttributeNotFound", err)
	}

	_, manifest, _ := d.FindElement("manifest")
	pkg, err := d.GetAttribute(manifest, "package")
	if err != nil {
		t.Fatalf("GetAttribute(package): %v", err)
	}
	if d.AttrResID(pkg) != 0 {
		t.Errorf("package should be unbound, got %s", d.AttrResID(pkg))
	}
}

func TestSetAttribute_ReplacesInPlace(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")
	before, _ := d.GetAttribute(app, "label")

	got := d.SetAttribute(app, StringAttr(AndroidNS, "label", AttrLabel, "Patched"))
	if got != before {
		t.Error("SetAttribute should update the existing attribute")
	}
	if len(app.Attrs) != 2 {
		t.Errorf("len(Attrs) = %d, want 2", len(app.Attrs))
	}
	if s, _ := d.StringValue(got); s != "Patched" {
		t.Errorf("label = %q, want Patched", s)
	}
	if got.RawValue != got.Value.Data {
		t.Errorf("raw value %d should track string data %d", got.RawValue, got.Value.Data)
	}

	dbg := d.SetAttribute(app, ValueAttr(AndroidNS, "debuggable", AttrDebuggable, chunk.Bool(true)))
	if dbg.Value.Data != chunk.BoolTrue || dbg.RawValue != NoIndex {
		t.Errorf("debuggable = %+v raw %#x, want true with no raw value", dbg.Value, dbg.RawValue)
	}
}

func TestSetAttribute_InsertOrder(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")
	// debuggable is the id attribute (1-based).
	app.IDIndex = 2

	d.SetAttribute(app, ValueAttr(AndroidNS, "icon", AttrIcon, chunk.Value{Type: chunk.ValueReference, Data: 0x7f020000}))
	if want := []string{"label", "icon", "debuggable"}; !slices.Equal(attrNames(d, app), want) {
		t.Fatalf("attrs = %v, want %v", attrNames(d, app), want)
	}
	if app.IDIndex != 3 {
		t.Errorf("IDIndex = %d, want 3 after insert before it", app.IDIndex)
	}

	d.SetAttribute(app, ValueAttr(AndroidNS, "usesCleartextTraffic", AttrUsesCleartextTraffic, chunk.Bool(true)))
	d.SetAttribute(app, StringAttr("", "custom", 0, "x"))
	d.SetAttribute(app, ValueAttr(AndroidNS, "roundIcon", AttrRoundIcon, chunk.Value{Type: chunk.ValueReference, Data: 0x7f020001}))

	want := []string{"label", "icon", "debuggable", "usesCleartextTraffic", "roundIcon", "custom"}
	if got := attrNames(d, app); !slices.Equal(got, want) {
		t.Errorf("attrs = %v, want %v", got, want)
	}
	if app.IDIndex != 3 {
		t.Errorf("IDIndex = %d, want 3 after inserts behind it", app.IDIndex)
	}

	got := reparse(t, d)
	_, app2, _ := got.FindElement("application")
	if names := attrNames(got, app2); !slices.Equal(names, want) {
		t.Errorf("reparsed attrs = %v, want %v", names, want)
	}
	icon, err := got.GetAttributeByID(app2, AttrIcon)
	if err != nil {
		t.Fatalf("GetAttributeByID(icon): %v", err)
	}
	if icon.Value.Data != 0x7f020000 {
		t.Errorf("icon = %#x, want 0x7f020000", icon.Value.Data)
	}
}

func TestSetAttribute_ResourceMapBinding(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")
	_, provider, _ := d.FindElement("provider")
	poolLen := d.Pool.Len()

	icon := d.SetAttribute(app, ValueAttr(AndroidNS, "icon", AttrIcon, chunk.Value{Type: chunk.ValueReference, Data: 1}))
	if int(icon.Name) != poolLen {
		t.Errorf("icon name index = %d, want appended at %d", icon.Name, poolLen)
	}
	if len(d.ResourceMap) != poolLen+1 {
		t.Errorf("len(ResourceMap) = %d, want %d", len(d.ResourceMap), poolLen+1)
	}
	if d.AttrResID(icon) != AttrIcon {
		t.Errorf("icon res id = %s, want %s", d.AttrResID(icon), AttrIcon)
	}

	// Bound and unbound names already in the pool are reused.
	again := d.SetAttribute(provider, ValueAttr(AndroidNS, "icon", AttrIcon, chunk.Value{Type: chunk.ValueReference, Data: 2}))
	if again.Name != icon.Name {
		t.Errorf("second icon name index = %d, want %d", again.Name, icon.Name)
	}
	label, _ := d.GetAttribute(app, "label")
	if l := d.SetAttribute(provider, StringAttr(AndroidNS, "label", AttrLabel, "P")); l.Name != label.Name {
		t.Errorf("label name index = %d, want %d", l.Name, label.Name)
	}
	_, manifest, _ := d.FindElement("manifest")
	pkg, _ := d.GetAttribute(manifest, "package")
	if p := d.SetAttribute(provider, StringAttr("", "package", 0, "x")); p.Name != pkg.Name {
		t.Errorf("package name index = %d, want %d", p.Name, pkg.Name)
	}
	// icon, "P" and "x" are the only new strings.
	if d.Pool.Len() != poolLen+3 {
		t.Errorf("pool grew to %d, want %d", d.Pool.Len(), poolLen+3)
	}
}

func TestRemoveAttribute(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")
	app.IDIndex = 2

	if d.RemoveAttribute(app, "missing") {
		t.Error("RemoveAttribute(missing) = true")
	}
	if !d.RemoveAttribute(app, "label") {
		t.Fatal("RemoveAttribute(label) = false")
	}
	if app.IDIndex != 1 {
		t.Errorf("IDIndex = %d, want 1", app.IDIndex)
	}
	if !d.RemoveAttribute(app, "debuggable") {
		t.Fatal("RemoveAttribute(debuggable) = false")
	}
	if app.IDIndex != 0 || len(app.Attrs) != 0 {
		t.Errorf("IDIndex = %d, attrs = %d; want 0, 0", app.IDIndex, len(app.Attrs))
	}

	got := reparse(t, d)
	_, app2, _ := got.FindElement("application")
	if len(app2.Attrs) != 0 {
		t.Errorf("reparsed attrs = %v, want none", attrNames(got, app2))
	}
}

func TestInsertElementPair(t *testing.T) {
	d := testManifest()
	appIdx, _, _ := d.FindElement("application")

	start, end := d.InsertElementPair(appIdx-1, "", "uses-permission", []AttrSpec{
		StringAttr(AndroidNS, "name", AttrName, "android.permission.MANAGE_EXTERNAL_STORAGE"),
	})
	if start != 4 || end != 5 {
		t.Fatalf("InsertElementPair = %d, %d; want 4, 5", start, end)
	}
	appIdx, _, _ = d.FindElement("application")
	if appIdx != 6 {
		t.Errorf("application moved to %d, want 6", appIdx)
	}
	if e, _ := d.EndOf(appIdx); e != 9 {
		t.Errorf("EndOf(application) = %d, want 9", e)
	}
	if children, _ := d.Children(1); !slices.Equal(children, []int{2, 4, 6}) {
		t.Errorf("Children(manifest) = %v, want [2 4 6]", children)
	}

	got := reparse(t, d)
	perms := got.FindElements("uses-permission")
	if len(perms) != 2 {
		t.Fatalf("uses-permission count = %d, want 2", len(perms))
	}
	a, err := got.GetAttributeByID(got.Element(perms[1]), AttrName)
	if err != nil {
		t.Fatalf("GetAttributeByID(name): %v", err)
	}
	if s, _ := got.StringValue(a); s != "android.permission.MANAGE_EXTERNAL_STORAGE" {
		t.Errorf("permission = %q", s)
	}
}

type decodedManifest struct {
	Package string `xml:"package,attr"`
	App     struct {
		Label    string `xml:"label,attr"`
		Provider struct {
			Authorities string `xml:"authorities,attr"`
		} `xml:"provider"`
	} `xml:"application"`
}

func TestBuilder_BoundNamesFirst(t *testing.T) {
	d := testManifest()
	bound := 0
	for _, id := range d.ResourceMap {
		if id == 0 {
			t.Fatalf("ResourceMap = %v, want only bound names", d.ResourceMap)
		}
		bound++
	}
	if bound != 4 {
		t.Errorf("bound names = %d, want 4", bound)
	}
	ns, ok := d.Nodes[0].(*Namespace)
	if !ok {
		t.Fatalf("first node = %T", d.Nodes[0])
	}
	if int(ns.Prefix) < bound || d.Pool.Get(ns.Prefix) != "android" {
		t.Errorf("prefix index = %d (%q), want after the %d bound names", ns.Prefix, d.Pool.Get(ns.Prefix), bound)
	}
	_, app, _ := d.FindElement("application")
	if label, err := d.GetAttributeByID(app, AttrLabel); err != nil || d.AttrName(label) != "label" {
		t.Errorf("label after reorder = %v, %v", label, err)
	} else if s, _ := d.StringValue(label); s != "Example" {
		t.Errorf("label value = %q", s)
	}
}

func TestEncode_ReadableByIndependentDecoder(t *testing.T) {
	d := testManifest()
	_, app, _ := d.FindElement("application")
	d.SetAttribute(app, StringAttr(AndroidNS, "label", AttrLabel, "Renamed"))
	d.SetAttribute(app, ValueAttr(AndroidNS, "icon", AttrIcon, chunk.Value{Type: chunk.ValueReference, Data: 0x7f020000}))

	f, err := androidbinary.NewXMLFile(bytes.NewReader(d.Encode()))
	if err != nil {
		t.Fatalf("NewXMLFile: %v", err)
	}
	var m decodedManifest
	if err := xml.NewDecoder(f.Reader()).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Package != "com.example.app" {
		t.Errorf("package = %q", m.Package)
	}
	if m.App.Label != "Renamed" {
		t.Errorf("label = %q, want Renamed", m.App.Label)
	}
	if m.App.Provider.Authorities != "com.example.app.files" {
		t.Errorf("authorities = %q", m.App.Provider.Authorities)
	}
}
