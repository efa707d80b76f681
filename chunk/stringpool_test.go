package chunk

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pithecene-io/modpatch/types"
)

func encodePool(p *StringPool) []byte {
	w := NewWriter(0)
	p.Encode(w)
	return w.Result()
}

// utf16PoolWithStyle is a hand-assembled UTF-16 pool: strings "ab" and "c",
// one style span list for string 0, sorted flag set.
var utf16PoolWithStyle = []byte{
	0x01, 0x00, 0x1c, 0x00, 0x4c, 0x00, 0x00, 0x00, // header, size 76
	0x02, 0x00, 0x00, 0x00, // string count
	0x01, 0x00, 0x00, 0x00, // style count
	0x01, 0x00, 0x00, 0x00, // flags: sorted
	0x28, 0x00, 0x00, 0x00, // strings start 40
	0x38, 0x00, 0x00, 0x00, // styles start 56
	0x00, 0x00, 0x00, 0x00, // offset "ab"
	0x08, 0x00, 0x00, 0x00, // offset "c"
	0x00, 0x00, 0x00, 0x00, // style offset
	0x02, 0x00, 'a', 0x00, 'b', 0x00, 0x00, 0x00, // "ab"
	0x01, 0x00, 'c', 0x00, // "c" (terminator in next word)
	0x00, 0x00, 0x00, 0x00, // terminator + pad
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // span name, first char
	0x01, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff, // last char, END
	0xff, 0xff, 0xff, 0xff, // style list end
}

func TestParseStringPool_RoundTripVerbatim(t *testing.T) {
	p, err := ParseStringPool(utf16PoolWithStyle, 0)
	if err != nil {
		t.Fatalf("ParseStringPool: %v", err)
	}
	if p.Len() != 2 || p.Get(0) != "ab" || p.Get(1) != "c" {
		t.Fatalf("strings = %q, %q (len %d)", p.Get(0), p.Get(1), p.Len())
	}
	if got := encodePool(p); !bytes.Equal(got, utf16PoolWithStyle) {
		t.Errorf("round trip mismatch\n got %x\nwant %x", got, utf16PoolWithStyle)
	}
}

func TestStringPool_AddStringDedupe(t *testing.T) {
	for _, utf8 := range []bool{true, false} {
		p := NewStringPool(utf8)
		a := p.AddString("label", true)
		b := p.AddString("label", true)
		if a != b {
			t.Errorf("utf8=%v: dedupe returned %d then %d", utf8, a, b)
		}
		c := p.AddString("icon", false)
		d := p.AddString("icon", false)
		if c == d {
			t.Errorf("utf8=%v: non-dedupe returned the same index %d twice", utf8, c)
		}
		if p.Len() != 3 {
			t.Errorf("utf8=%v: Len() = %d, want 3", utf8, p.Len())
		}
	}
}

func TestStringPool_AppendKeepsExistingIndices(t *testing.T) {
	p, err := ParseStringPool(utf16PoolWithStyle, 0)
	if err != nil {
		t.Fatalf("ParseStringPool: %v", err)
	}
	long := strings.Repeat("x", 300)
	idx := p.AddString(long, true)
	p.AddString("ünïcödé", false)

	reparsed, err := ParseStringPool(encodePool(p), 0)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	want := []string{"ab", "c", long, "ünïcödé"}
	for i, s := range want {
		if got := reparsed.Get(uint32(i)); got != s {
			t.Errorf("Get(%d) = %q, want %q", i, got, s)
		}
	}
	if idx != 2 {
		t.Errorf("AddString index = %d, want 2", idx)
	}
	if reparsed.flags&PoolFlagSorted != 0 {
		t.Error("sorted flag still set after append")
	}
	b := encodePool(reparsed)
	if len(b)%4 != 0 {
		t.Errorf("encoded size %d not 4-byte aligned", len(b))
	}
	if U32(b, 4) != uint32(len(b)) {
		t.Errorf("size field %d != encoded length %d", U32(b, 4), len(b))
	}
}

func TestStringPool_OversizedStringSwitchesToUTF16(t *testing.T) {
	p := NewStringPool(true)
	first := p.AddString("label", false)
	huge := strings.Repeat("é", 0x4000) // 0x8000 UTF-8 bytes
	idx := p.AddString(huge, false)

	if p.IsUTF8() {
		t.Fatal("pool kept UTF-8 for a string its length prefix cannot hold")
	}
	reparsed, err := ParseStringPool(encodePool(p), 0)
	if err != nil {
		t.Fatalf("ParseStringPool: %v", err)
	}
	if reparsed.Get(first) != "label" || reparsed.Get(idx) != huge {
		t.Error("strings changed across the re-encoding")
	}
}

func TestStringPool_UTF8LongStrings(t *testing.T) {
	p := NewStringPool(true)
	long := strings.Repeat("é", 200) // 200 units, 400 bytes: two-byte length prefixes
	p.AddString(long, false)
	p.AddString("", false)

	b := encodePool(p)
	reparsed, err := ParseStringPool(b, 0)
	if err != nil {
		t.Fatalf("ParseStringPool: %v", err)
	}
	if !reparsed.IsUTF8() {
		t.Error("UTF-8 flag lost")
	}
	if reparsed.Get(0) != long || reparsed.Get(1) != "" {
		t.Errorf("decoded strings mismatch")
	}
	if got := encodePool(reparsed); !bytes.Equal(got, b) {
		t.Error("second encode differs from first")
	}
}

func TestParseStringPool_Malformed(t *testing.T) {
	bad := make([]byte, len(utf16PoolWithStyle))
	copy(bad, utf16PoolWithStyle)
	bad[8] = 0xff // string count far beyond the chunk

	if _, err := ParseStringPool(bad, 0); !errors.Is(err, types.ErrFormat) {
		t.Errorf("ParseStringPool() error = %v, want ErrFormat", err)
	}

	bad2 := make([]byte, len(utf16PoolWithStyle))
	copy(bad2, utf16PoolWithStyle)
	bad2[32] = 0x40 // first string offset past the data
	if _, err := ParseStringPool(bad2, 0); !errors.Is(err, types.ErrFormat) {
		t.Errorf("ParseStringPool() error = %v, want ErrFormat", err)
	}
}
