package signer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pithecene-io/modpatch/types"
)

// ZIP end of central directory record.
const (
	eocdSignature     = 0x06054b50
	eocdMinSize       = 22
	eocdCDSizeOffset  = 12
	eocdCDOffset      = 16
	eocdCommentLength = 20
)

// APK Signing Block layout.
const (
	blockMagicLo = 0x20676953204b5041
	blockMagicHi = 0x3234206b636f6c42
	// footer is the trailing size field plus the 16-byte magic.
	blockFooterSize = 24
	blockMinSize    = 32
)

// Known ID-value pair ids.
const (
	BlockIDV2      = 0x7109871a
	BlockIDChannel = 0x71777777
)

// ErrNoSigningBlock is returned when no APK Signing Block precedes the
// central directory.
var ErrNoSigningBlock = errors.New("no APK Signing Block")

// idValue is one ID-value pair of the signing block.
type idValue struct {
	id    uint32
	value []byte
}

// layout locates the parts of a ZIP file relevant to v2 signing.
type layout struct {
	size int64
	// blockOffset is where the signing block starts, or cdOffset if absent.
	blockOffset int64
	cdOffset    int64
	cdSize      int64
	eocdOffset  int64
	eocd        []byte
	pairs       []idValue
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{types.ErrFormat}, args...)...)
}

// findEOCD locates the end of central directory record, trying an empty
// comment first.
func findEOCD(r io.ReaderAt, size int64) ([]byte, int64, error) {
	if size < eocdMinSize {
		return nil, 0, formatErr("file too small for a ZIP archive")
	}
	maxComment := int64(math.MaxUint16)
	if size-eocdMinSize < maxComment {
		maxComment = size - eocdMinSize
	}
	bufStart := size - eocdMinSize - maxComment
	buf := make([]byte, size-bufStart)
	if _, err := r.ReadAt(buf, bufStart); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	for comment := int64(0); comment <= maxComment; comment++ {
		pos := int64(len(buf)) - eocdMinSize - comment
		if binary.LittleEndian.Uint32(buf[pos:]) != eocdSignature {
			continue
		}
		if int64(binary.LittleEndian.Uint16(buf[pos+eocdCommentLength:])) == comment {
			return buf[pos:], bufStart + pos, nil
		}
	}
	return nil, 0, formatErr("end of central directory not found")
}

// readLayout parses the archive tail and any signing block.
func readLayout(r io.ReaderAt, size int64) (*layout, error) {
	eocd, eocdOffset, err := findEOCD(r, size)
	if err != nil {
		return nil, err
	}
	l := &layout{
		size:       size,
		eocd:       eocd,
		eocdOffset: eocdOffset,
		cdOffset:   int64(binary.LittleEndian.Uint32(eocd[eocdCDOffset:])),
		cdSize:     int64(binary.LittleEndian.Uint32(eocd[eocdCDSizeOffset:])),
	}
	if l.cdOffset == math.MaxUint32 {
		return nil, formatErr("ZIP64 archives are not supported")
	}
	if l.cdOffset+l.cdSize != eocdOffset {
		return nil, formatErr("central directory [%d, %d) does not end at EOCD %d", l.cdOffset, l.cdOffset+l.cdSize, eocdOffset)
	}
	l.blockOffset = l.cdOffset
	block, offset, err := findSigningBlock(r, l.cdOffset)
	switch {
	case errors.Is(err, ErrNoSigningBlock):
		return l, nil
	case err != nil:
		return nil, err
	}
	if l.pairs, err = parsePairs(block); err != nil {
		return nil, err
	}
	l.blockOffset = offset
	return l, nil
}

// findSigningBlock returns the signing block that ends at cdOffset.
func findSigningBlock(r io.ReaderAt, cdOffset int64) ([]byte, int64, error) {
	if cdOffset < blockMinSize {
		return nil, 0, ErrNoSigningBlock
	}
	footer := make([]byte, blockFooterSize)
	if _, err := r.ReadAt(footer, cdOffset-blockFooterSize); err != nil {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint64(footer[8:]) != blockMagicLo || binary.LittleEndian.Uint64(footer[16:]) != blockMagicHi {
		return nil, 0, ErrNoSigningBlock
	}
	sizeInFooter := binary.LittleEndian.Uint64(footer)
	if sizeInFooter < blockFooterSize || sizeInFooter > uint64(cdOffset-8) {
		return nil, 0, formatErr("signing block size %d out of range", sizeInFooter)
	}
	total := int64(sizeInFooter) + 8
	offset := cdOffset - total
	block := make([]byte, total)
	if _, err := r.ReadAt(block, offset); err != nil {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint64(block) != sizeInFooter {
		return nil, 0, formatErr("signing block header size %d, footer %d", binary.LittleEndian.Uint64(block), sizeInFooter)
	}
	return block, offset, nil
}

// parsePairs decodes the ID-value pairs of a complete signing block.
func parsePairs(block []byte) ([]idValue, error) {
	var out []idValue
	pos, limit := 8, len(block)-blockFooterSize
	for pos < limit {
		if limit-pos < 8 {
			return nil, formatErr("signing block pair %d truncated", len(out))
		}
		n := binary.LittleEndian.Uint64(block[pos:])
		pos += 8
		if n < 4 || n > uint64(limit-pos) {
			return nil, formatErr("signing block pair %d size %d out of range", len(out), n)
		}
		out = append(out, idValue{
			id:    binary.LittleEndian.Uint32(block[pos:]),
			value: block[pos+4 : pos+int(n)],
		})
		pos += int(n)
	}
	return out, nil
}

// encodeBlock serializes pairs into a signing block.
func encodeBlock(pairs []idValue) []byte {
	size := blockFooterSize
	for _, p := range pairs {
		size += 8 + 4 + len(p.value)
	}
	out := make([]byte, 0, size+8)
	out = binary.LittleEndian.AppendUint64(out, uint64(size))
	for _, p := range pairs {
		out = binary.LittleEndian.AppendUint64(out, uint64(4+len(p.value)))
		out = binary.LittleEndian.AppendUint32(out, p.id)
		out = append(out, p.value...)
	}
	out = binary.LittleEndian.AppendUint64(out, uint64(size))
	out = binary.LittleEndian.AppendUint64(out, blockMagicLo)
	out = binary.LittleEndian.AppendUint64(out, blockMagicHi)
	return out
}

func (l *layout) pair(id uint32) ([]byte, bool) {
	for _, p := range l.pairs {
		if p.id == id {
			return p.value, true
		}
	}
	return nil, false
}

// eocdWithOffset returns a copy of the EOCD record pointing at cdOffset.
func (l *layout) eocdWithOffset(cdOffset int64) []byte {
	out := append([]byte(nil), l.eocd...)
	binary.LittleEndian.PutUint32(out[eocdCDOffset:], uint32(cdOffset))
	return out
}

// lengthPrefixed appends v with a u32 length prefix.
func lengthPrefixed(dst []byte, v []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v)))
	return append(dst, v...)
}

// readPrefixed splits a u32 length-prefixed value off b.
func readPrefixed(b []byte) (v, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, formatErr("length prefix truncated")
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(len(b)-4) {
		return nil, nil, formatErr("length %d exceeds remaining %d bytes", n, len(b)-4)
	}
	return b[4 : 4+n], b[4+n:], nil
}
