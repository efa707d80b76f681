// Package dex arranges the dex payloads of an archive.
//
// Dex entries are numbered: index 0 is classes.dex, index n>0 is
// classes{n+1}.dex. The runtime loads them in index order, so payloads that
// must win class resolution take the lowest indices.
package dex

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"

	"github.com/pithecene-io/modpatch/chunk"
)

// HeaderSize is the size of a dex file header.
const HeaderSize = 0x70

var entryPattern = regexp.MustCompile(`^classes([0-9]*)\.dex$`)

// EntryName returns the archive entry name of dex index i.
func EntryName(i int) string {
	if i == 0 {
		return "classes.dex"
	}
	return "classes" + strconv.Itoa(i+1) + ".dex"
}

// Index returns the dex index of an archive entry name.
func Index(name string) (int, bool) {
	m := entryPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 0, true
	}
	n, err := strconv.Atoi(m[1])
	// classes1.dex is not a valid name.
	if err != nil || n < 2 {
		return 0, false
	}
	return n - 1, true
}

// Count returns one past the highest dex index in names.
func Count(names []string) int {
	n := 0
	for _, name := range names {
		if i, ok := Index(name); ok && i+1 > n {
			n = i + 1
		}
	}
	return n
}

// ValidateHeader checks the dex magic and the declared file size.
func ValidateHeader(b []byte) error {
	if len(b) < HeaderSize {
		return chunk.Errorf(0, "dex file too short: %d bytes", len(b))
	}
	if string(b[:4]) != "dex\n" || b[7] != 0 {
		return chunk.Errorf(0, "bad dex magic %q", b[:8])
	}
	for _, c := range b[4:7] {
		if c < '0' || c > '9' {
			return chunk.Errorf(4, "bad dex version %q", b[4:7])
		}
	}
	if size := binary.LittleEndian.Uint32(b[0x20:]); int(size) != len(b) {
		return chunk.Errorf(0x20, "dex file_size %d, have %d bytes", size, len(b))
	}
	return nil
}

// Provider contributes dex payloads.
type Provider interface {
	Name() string
	// Priority above zero claims the lowest dex indices.
	Priority() int
	Payloads(ctx context.Context) ([][]byte, error)
}

// StaticProvider serves payloads held in memory.
type StaticProvider struct {
	ProviderName string
	Prio         int
	Dex          [][]byte
}

// Name implements Provider.
func (p StaticProvider) Name() string { return p.ProviderName }

// Priority implements Provider.
func (p StaticProvider) Priority() int { return p.Prio }

// Payloads implements Provider.
func (p StaticProvider) Payloads(context.Context) ([][]byte, error) { return p.Dex, nil }

// FileProvider reads payloads from local files, typically downloads.
type FileProvider struct {
	ProviderName string
	Prio         int
	Paths        []string
}

// Name implements Provider.
func (p FileProvider) Name() string { return p.ProviderName }

// Priority implements Provider.
func (p FileProvider) Priority() int { return p.Prio }

// Payloads implements Provider.
func (p FileProvider) Payloads(ctx context.Context) ([][]byte, error) {
	out := make([][]byte, 0, len(p.Paths))
	for _, path := range p.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Archive is the part of the working archive the reorganizer touches.
type Archive interface {
	Names() []string
	Rename(from, to string) error
	WriteFile(name string, data []byte) error
}

// Placement records where one payload was written.
type Placement struct {
	Entry    string
	Provider string
}

// Layout describes a completed reorganization.
type Layout struct {
	// Existing is the dex count before reorganizing.
	Existing int
	// Relocated maps original entry names to their new names.
	Relocated map[string]string
	Placed    []Placement
	// Total is the dex count afterwards.
	Total int
}

type payload struct {
	provider string
	data     []byte
}

// Reorganize writes the payloads of providers into a.
//
// With N existing entries and P payloads from providers of priority above
// zero (highest priority first, stable otherwise), the originals at indices
// below P are moved to index max(N, P)+i, the priority payloads take indices
// 0..P-1 and priority-zero payloads follow after every other entry.
func Reorganize(ctx context.Context, a Archive, providers []Provider) (Layout, error) {
	sorted := slices.Clone(providers)
	slices.SortStableFunc(sorted, func(x, y Provider) int { return cmp.Compare(y.Priority(), x.Priority()) })

	var front, back []payload
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return Layout{}, err
		}
		if p.Priority() < 0 {
			return Layout{}, fmt.Errorf("dex provider %s: negative priority %d", p.Name(), p.Priority())
		}
		data, err := p.Payloads(ctx)
		if err != nil {
			return Layout{}, fmt.Errorf("dex provider %s: %w", p.Name(), err)
		}
		for i, b := range data {
			if err := ValidateHeader(b); err != nil {
				return Layout{}, fmt.Errorf("dex provider %s payload %d: %w", p.Name(), i, err)
			}
			pl := payload{provider: p.Name(), data: b}
			if p.Priority() > 0 {
				front = append(front, pl)
			} else {
				back = append(back, pl)
			}
		}
	}

	names := a.Names()
	n := Count(names)
	layout := Layout{Existing: n, Relocated: make(map[string]string)}
	shift := max(n, len(front))
	for i := range min(n, len(front)) {
		from, to := EntryName(i), EntryName(shift+i)
		if !slices.Contains(names, from) {
			continue
		}
		if err := a.Rename(from, to); err != nil {
			return layout, err
		}
		layout.Relocated[from] = to
	}
	next := 0
	place := func(pl payload) error {
		name := EntryName(next)
		next++
		if err := a.WriteFile(name, pl.data); err != nil {
			return err
		}
		layout.Placed = append(layout.Placed, Placement{Entry: name, Provider: pl.provider})
		return nil
	}
	for _, pl := range front {
		if err := place(pl); err != nil {
			return layout, err
		}
	}
	next = n + len(front)
	for _, pl := range back {
		if err := place(pl); err != nil {
			return layout, err
		}
	}
	layout.Total = next
	return layout, nil
}
