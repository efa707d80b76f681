package arsc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pithecene-io/modpatch/chunk"
)

// Density values used by resource configurations.
const (
	DensityDefault uint16 = 0
	DensityLow     uint16 = 120
	DensityMedium  uint16 = 160
	DensityTV      uint16 = 213
	DensityHigh    uint16 = 240
	DensityXHigh   uint16 = 320
	DensityXXHigh  uint16 = 480
	DensityXXXHigh uint16 = 640
	DensityAny     uint16 = 0xfffe
	DensityNone    uint16 = 0xffff
)

const (
	uiModeNightMask = 0x30
	uiModeNightNo   = 0x10
	uiModeNightYes  = 0x20
)

// configSize is the configuration size written for synthesized variants.
const configSize = 64

// Config is a resource configuration (ResTable_config). The raw bytes,
// including the leading size field, are kept so unknown fields survive.
type Config struct {
	raw []byte
}

// ConfigSpec selects the qualifiers of a synthesized configuration.
type ConfigSpec struct {
	Language   string
	Region     string
	Density    uint16
	SDKVersion uint16
	Night      bool
}

// NewConfig returns a configuration with the given qualifiers set.
func NewConfig(s ConfigSpec) Config {
	raw := make([]byte, configSize)
	binary.LittleEndian.PutUint32(raw, configSize)
	if len(s.Language) == 2 {
		copy(raw[8:10], s.Language)
	}
	if len(s.Region) == 2 {
		copy(raw[10:12], s.Region)
	}
	binary.LittleEndian.PutUint16(raw[14:], s.Density)
	binary.LittleEndian.PutUint16(raw[24:], s.SDKVersion)
	if s.Night {
		raw[29] = uiModeNightYes
	}
	return Config{raw: raw}
}

func readConfig(b []byte, off, limit int) (Config, error) {
	if off+4 > limit {
		return Config{}, chunk.Errorf(off, "config truncated")
	}
	size := int(chunk.U32(b, off))
	if size < 4 || off+size > limit {
		return Config{}, chunk.Errorf(off, "config size %d out of range", size)
	}
	raw := make([]byte, size)
	copy(raw, b[off:off+size])
	return Config{raw: raw}, nil
}

// Size returns the encoded size of the configuration.
func (c Config) Size() int { return len(c.raw) }

func (c Config) u8(off int) uint8 {
	if off >= len(c.raw) {
		return 0
	}
	return c.raw[off]
}

func (c Config) u16(off int) uint16 {
	if off+2 > len(c.raw) {
		return 0
	}
	return binary.LittleEndian.Uint16(c.raw[off:])
}

// MCC returns the mobile country code.
func (c Config) MCC() uint16 { return c.u16(4) }

// MNC returns the mobile network code.
func (c Config) MNC() uint16 { return c.u16(6) }

// Language returns the language code, or "".
func (c Config) Language() string { return unpackLocale(c.u8(8), c.u8(9), 'a') }

// Region returns the region code, or "".
func (c Config) Region() string { return unpackLocale(c.u8(10), c.u8(11), '0') }

// Orientation returns the raw orientation value.
func (c Config) Orientation() uint8 { return c.u8(12) }

// Touchscreen returns the raw touchscreen value.
func (c Config) Touchscreen() uint8 { return c.u8(13) }

// Density returns the screen density.
func (c Config) Density() uint16 { return c.u16(14) }

// SDKVersion returns the minimum platform version.
func (c Config) SDKVersion() uint16 { return c.u16(24) }

// ScreenLayout returns the raw screen layout value (size, long, direction).
func (c Config) ScreenLayout() uint8 { return c.u8(28) }

// UIMode returns the raw ui mode value.
func (c Config) UIMode() uint8 { return c.u8(29) }

// SmallestScreenWidthDp returns the sw<N>dp qualifier value.
func (c Config) SmallestScreenWidthDp() uint16 { return c.u16(30) }

// ScreenWidthDp returns the w<N>dp qualifier value.
func (c Config) ScreenWidthDp() uint16 { return c.u16(32) }

// ScreenHeightDp returns the h<N>dp qualifier value.
func (c Config) ScreenHeightDp() uint16 { return c.u16(34) }

// IsDefault reports whether no qualifier is set.
func (c Config) IsDefault() bool { return c.String() == "" }

// Qualifier names keyed by masked field value.
var (
	layoutDirNames   = map[uint8]string{0x40: "ldltr", 0x80: "ldrtl"}
	screenSizeNames  = map[uint8]string{1: "small", 2: "normal", 3: "large", 4: "xlarge"}
	screenLongNames  = map[uint8]string{0x10: "notlong", 0x20: "long"}
	roundNames       = map[uint8]string{1: "notround", 2: "round"}
	gamutNames       = map[uint8]string{1: "nowidecg", 2: "widecg"}
	hdrNames         = map[uint8]string{0x04: "lowdr", 0x08: "highdr"}
	orientationNames = map[uint8]string{1: "port", 2: "land", 3: "square"}
	uiModeTypeNames  = map[uint8]string{2: "desk", 3: "car", 4: "television", 5: "appliance", 6: "watch", 7: "vrheadset"}
	nightNames       = map[uint8]string{uiModeNightNo: "notnight", uiModeNightYes: "night"}
	touchNames       = map[uint8]string{1: "notouch", 2: "stylus", 3: "finger"}
	keysHiddenNames  = map[uint8]string{1: "keysexposed", 2: "keyshidden", 3: "keyssoft"}
	keyboardNames    = map[uint8]string{1: "nokeys", 2: "qwerty", 3: "12key"}
	navHiddenNames   = map[uint8]string{0x04: "navexposed", 0x08: "navhidden"}
	navigationNames  = map[uint8]string{1: "nonav", 2: "dpad", 3: "trackball", 4: "wheel"}
)

// String returns the qualifier string aapt would use for a resource
// directory suffix, e.g. "xxhdpi-v4", "anydpi-v26" or "en-rUS".
// The default configuration is "".
func (c Config) String() string {
	var q []string
	named := func(names map[uint8]string, v uint8) {
		if n, ok := names[v]; ok {
			q = append(q, n)
		}
	}
	if v := c.MCC(); v != 0 {
		q = append(q, fmt.Sprintf("mcc%d", v))
	}
	if v := c.MNC(); v != 0 {
		q = append(q, fmt.Sprintf("mnc%d", v))
	}
	if lang := c.Language(); lang != "" {
		q = append(q, lang)
		if region := c.Region(); region != "" {
			q = append(q, "r"+region)
		}
	}
	layout := c.ScreenLayout()
	named(layoutDirNames, layout&0xc0)
	if v := c.SmallestScreenWidthDp(); v != 0 {
		q = append(q, fmt.Sprintf("sw%ddp", v))
	}
	if v := c.ScreenWidthDp(); v != 0 {
		q = append(q, fmt.Sprintf("w%ddp", v))
	}
	if v := c.ScreenHeightDp(); v != 0 {
		q = append(q, fmt.Sprintf("h%ddp", v))
	}
	named(screenSizeNames, layout&0x0f)
	named(screenLongNames, layout&0x30)
	named(roundNames, c.u8(48)&0x03)
	named(gamutNames, c.u8(49)&0x03)
	named(hdrNames, c.u8(49)&0x0c)
	named(orientationNames, c.Orientation())
	named(uiModeTypeNames, c.UIMode()&0x0f)
	named(nightNames, c.UIMode()&uiModeNightMask)
	if d := densityName(c.Density()); d != "" {
		q = append(q, d)
	}
	named(touchNames, c.Touchscreen())
	named(keysHiddenNames, c.u8(18)&0x03)
	named(keyboardNames, c.u8(16))
	named(navHiddenNames, c.u8(18)&0x0c)
	named(navigationNames, c.u8(17))
	if w, h := c.u16(20), c.u16(22); w != 0 && h != 0 {
		q = append(q, fmt.Sprintf("%dx%d", max(w, h), min(w, h)))
	}
	if v := c.SDKVersion(); v != 0 {
		q = append(q, fmt.Sprintf("v%d", v))
	}
	return strings.Join(q, "-")
}

func densityName(d uint16) string {
	switch d {
	case DensityDefault:
		return ""
	case DensityLow:
		return "ldpi"
	case DensityMedium:
		return "mdpi"
	case DensityTV:
		return "tvdpi"
	case DensityHigh:
		return "hdpi"
	case DensityXHigh:
		return "xhdpi"
	case DensityXXHigh:
		return "xxhdpi"
	case DensityXXXHigh:
		return "xxxhdpi"
	case DensityAny:
		return "anydpi"
	case DensityNone:
		return "nodpi"
	}
	return fmt.Sprintf("%ddpi", d)
}

// unpackLocale decodes a two-byte language or region field. Three-letter
// codes are packed into 15 bits with the high bit set.
func unpackLocale(b0, b1 uint8, base byte) string {
	if b0 == 0 {
		return ""
	}
	if b0&0x80 == 0 {
		return string([]byte{b0, b1})
	}
	first := b1 & 0x1f
	second := (b1&0xe0)>>5 | (b0&0x03)<<3
	third := (b0 & 0x7c) >> 2
	return string([]byte{base + first, base + second, base + third})
}
