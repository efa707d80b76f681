// Package archive provides the working copy of an APK: entries can be read,
// replaced, renamed and removed in memory, then committed as a new aligned
// zip file. Unchanged entries are copied without recompression.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/pithecene-io/modpatch/iox"
)

// ErrNotFound is returned for a missing entry.
var ErrNotFound = errors.New("archive entry not found")

// Alignment applied to stored entries on commit.
const (
	DefaultAlignment = 4
	NativeAlignment  = 16384
)

// alignmentExtraID is the extra field zipalign-compatible tools use for padding.
const alignmentExtraID = 0xd935

// localHeaderLen is the fixed part of a local file header.
const localHeaderLen = 30

type entry struct {
	name     string
	src      *zip.File
	data     []byte
	method   uint16
	modified time.Time
}

// Archive is an editable APK.
type Archive struct {
	rc      *zip.ReadCloser
	entries []*entry
	byName  map[string]*entry
}

// Open loads the archive at p. Entry data stays on disk until replaced.
func Open(p string) (*Archive, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", p, err)
	}
	a := &Archive{rc: rc, byName: make(map[string]*entry, len(rc.File))}
	for _, f := range rc.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if _, dup := a.byName[f.Name]; dup {
			iox.DiscardClose(rc)
			return nil, fmt.Errorf("archive %s: duplicate entry %q", p, f.Name)
		}
		e := &entry{name: f.Name, src: f, method: f.Method, modified: f.Modified}
		a.entries = append(a.entries, e)
		a.byName[f.Name] = e
	}
	return a, nil
}

// New returns an empty archive.
func New() *Archive {
	return &Archive{byName: make(map[string]*entry)}
}

// Close releases the source file.
func (a *Archive) Close() error {
	if a.rc == nil {
		return nil
	}
	err := a.rc.Close()
	a.rc = nil
	return err
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.name
	}
	return out
}

// Has reports whether name exists.
func (a *Archive) Has(name string) bool {
	_, ok := a.byName[name]
	return ok
}

// Size returns the uncompressed size of name.
func (a *Archive) Size(name string) (int64, error) {
	e, ok := a.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.src != nil {
		return int64(e.src.UncompressedSize64), nil
	}
	return int64(len(e.data)), nil
}

// Open returns a reader over the uncompressed contents of name.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	e, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.src != nil {
		return e.src.Open()
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

// ReadFile returns the uncompressed contents of name.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(r)
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// WriteFile replaces or adds name. Existing entries keep their compression
// method; new entries use DefaultMethod.
func (a *Archive) WriteFile(name string, data []byte) error {
	method := DefaultMethod(name)
	if e, ok := a.byName[name]; ok {
		method = e.method
	}
	return a.WriteFileMethod(name, data, method)
}

// WriteFileMethod replaces or adds name with an explicit method.
func (a *Archive) WriteFileMethod(name string, data []byte, method uint16) error {
	if name == "" || strings.HasSuffix(name, "/") || path.IsAbs(name) {
		return fmt.Errorf("invalid entry name %q", name)
	}
	if method != zip.Store && method != zip.Deflate {
		return fmt.Errorf("entry %s: unsupported method %d", name, method)
	}
	e, ok := a.byName[name]
	if !ok {
		e = &entry{name: name}
		a.entries = append(a.entries, e)
		a.byName[name] = e
	}
	e.src = nil
	e.data = data
	e.method = method
	e.modified = time.Time{}
	return nil
}

// Rename moves an entry. The destination must not exist.
func (a *Archive) Rename(from, to string) error {
	e, ok := a.byName[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, exists := a.byName[to]; exists {
		return fmt.Errorf("rename %s: %s already exists", from, to)
	}
	delete(a.byName, from)
	e.name = to
	a.byName[to] = e
	return nil
}

// Remove deletes name and reports whether it existed.
func (a *Archive) Remove(name string) bool {
	e, ok := a.byName[name]
	if !ok {
		return false
	}
	delete(a.byName, name)
	a.entries = slices.DeleteFunc(a.entries, func(x *entry) bool { return x == e })
	return true
}

// RemoveFunc deletes every entry for which match returns true and returns
// the removed names.
func (a *Archive) RemoveFunc(match func(name string) bool) []string {
	var removed []string
	for _, n := range a.Names() {
		if match(n) && a.Remove(n) {
			removed = append(removed, n)
		}
	}
	return removed
}

// DefaultMethod picks the compression method for a new entry. Entries the
// platform maps directly from the archive are stored.
func DefaultMethod(name string) uint16 {
	switch {
	case name == "resources.arsc",
		strings.HasSuffix(name, ".so"),
		strings.HasSuffix(name, ".png"),
		strings.HasSuffix(name, ".webp"):
		return zip.Store
	}
	return zip.Deflate
}

// alignmentFor returns the data alignment for a stored entry.
func alignmentFor(name string) int {
	if strings.HasSuffix(name, ".so") {
		return NativeAlignment
	}
	return DefaultAlignment
}

// Commit writes the archive to dst through a temporary file in the same
// directory. Stored entries are aligned with a 0xd935 extra field.
func (a *Archive) Commit(dst string) error {
	if err := iox.ReplaceFile(dst, 0o644, a.writeTo); err != nil {
		return fmt.Errorf("commit %s: %w", dst, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (a *Archive) writeTo(w io.Writer) error {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, e := range a.entries {
		if err := zw.Flush(); err != nil {
			return err
		}
		if err := a.writeEntry(zw, cw.n, e); err != nil {
			return fmt.Errorf("entry %s: %w", e.name, err)
		}
	}
	return zw.Close()
}

func (a *Archive) writeEntry(zw *zip.Writer, offset int64, e *entry) error {
	fh := &zip.FileHeader{
		Name:     e.name,
		Method:   e.method,
		Modified: e.modified,
	}
	var body io.Reader
	if e.src != nil {
		src := e.src.FileHeader
		fh.CRC32 = src.CRC32
		fh.CompressedSize64 = src.CompressedSize64
		fh.UncompressedSize64 = src.UncompressedSize64
		fh.ModifiedDate, fh.ModifiedTime = src.ModifiedDate, src.ModifiedTime
		fh.Modified = time.Time{}
		fh.Extra = stripAlignment(src.Extra)
		fh.Flags = src.Flags &^ 0x8
		raw, err := e.src.OpenRaw()
		if err != nil {
			return err
		}
		body = raw
	} else {
		data := e.data
		fh.CRC32 = crc32.ChecksumIEEE(data)
		fh.UncompressedSize64 = uint64(len(data))
		if e.method == zip.Deflate {
			var err error
			if data, err = deflate(data); err != nil {
				return err
			}
		}
		fh.CompressedSize64 = uint64(len(data))
		body = bytes.NewReader(data)
	}
	if fh.Method == zip.Store {
		fh.Extra = append(fh.Extra, alignmentExtra(offset, len(fh.Name), len(fh.Extra), alignmentFor(e.name))...)
	}
	fw, err := zw.CreateRaw(fh)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, body)
	return err
}

// alignmentExtra returns an extra field that pads the entry data to a
// multiple of align.
func alignmentExtra(offset int64, nameLen, extraLen, align int) []byte {
	const fieldHeader = 6 // id, size, alignment
	dataStart := offset + localHeaderLen + int64(nameLen) + int64(extraLen) + fieldHeader
	pad := (int64(align) - dataStart%int64(align)) % int64(align)
	field := make([]byte, fieldHeader+int(pad))
	field[0], field[1] = byte(alignmentExtraID&0xff), byte(alignmentExtraID>>8)
	size := 2 + int(pad)
	field[2], field[3] = byte(size), byte(size>>8)
	field[4], field[5] = byte(align), byte(align>>8)
	return field
}

// stripAlignment removes existing alignment padding from an extra block.
func stripAlignment(extra []byte) []byte {
	var out []byte
	for len(extra) >= 4 {
		id := uint16(extra[0]) | uint16(extra[1])<<8
		size := int(uint16(extra[2]) | uint16(extra[3])<<8)
		if 4+size > len(extra) {
			break
		}
		if id != alignmentExtraID && id != 0 {
			out = append(out, extra[:4+size]...)
		}
		extra = extra[4+size:]
	}
	return out
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(b); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
