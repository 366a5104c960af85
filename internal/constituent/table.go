// Package constituent holds the reference table of astronomical tidal constituents
// and matches dataset constituent names against it.
package constituent

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed constituents.yaml
var defaultTable []byte

// Nodal correction families.
const (
	NodalNone = "none"
	NodalM2   = "m2"
	NodalO1   = "o1"
	NodalK1   = "k1"
	NodalK2   = "k2"
	NodalJ1   = "j1"
	NodalOO1  = "oo1"
	NodalMM   = "mm"
	NodalMF   = "mf"
	NodalM3   = "m3"
)

var nodalFamilies = map[string]bool{
	NodalNone: true, NodalM2: true, NodalO1: true, NodalK1: true, NodalK2: true,
	NodalJ1: true, NodalOO1: true, NodalMM: true, NodalMF: true, NodalM3: true,
}

// Constituent is one entry of the reference table.
type Constituent struct {
	Name string
	// Speed in degrees per mean solar hour.
	Speed float64
	// Doodson multipliers of the mean longitudes [tau, s, h, p, N', p'].
	Doodson [6]int
	// Semi is a constant phase offset in cycles.
	Semi  float64
	Nodal string
	// Compound lists parent constituents with multipliers. Compound constituents
	// take their arguments and corrections from their parents.
	Compound map[string]int
}

// IsCompound reports whether c is a combination of other constituents.
func (c Constituent) IsCompound() bool { return len(c.Compound) > 0 }

// CyclesPerHour returns the frequency in cycles per hour.
func (c Constituent) CyclesPerHour() float64 { return c.Speed / 360 }

type entry struct {
	Name     string         `yaml:"name"`
	Speed    float64        `yaml:"speed"`
	Doodson  []int          `yaml:"doodson"`
	Semi     float64        `yaml:"semi"`
	Nodal    string         `yaml:"nodal"`
	Compound map[string]int `yaml:"compound"`
}

// Table is an immutable set of constituents keyed by name.
type Table struct {
	byName map[string]Constituent
	names  []string
}

// Load parses a YAML constituent list.
func Load(r io.Reader) (*Table, error) {
	var entries []entry
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode constituent table: %w", err)
	}

	t := &Table{byName: make(map[string]Constituent, len(entries))}
	for _, e := range entries {
		c, err := e.constituent()
		if err != nil {
			return nil, err
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("constituent %s defined twice", c.Name)
		}
		t.byName[c.Name] = c
		t.names = append(t.names, c.Name)
	}

	for _, c := range t.byName {
		for parent := range c.Compound {
			p, ok := t.byName[parent]
			if !ok {
				return nil, fmt.Errorf("constituent %s: unknown parent %s", c.Name, parent)
			}
			if p.IsCompound() {
				return nil, fmt.Errorf("constituent %s: parent %s is itself compound", c.Name, parent)
			}
		}
	}
	sort.Strings(t.names)
	return t, nil
}

func (e entry) constituent() (Constituent, error) {
	if e.Name == "" {
		return Constituent{}, fmt.Errorf("constituent without name")
	}
	c := Constituent{
		Name:     e.Name,
		Speed:    e.Speed,
		Semi:     e.Semi,
		Nodal:    e.Nodal,
		Compound: e.Compound,
	}
	if len(e.Compound) > 0 {
		if len(e.Doodson) > 0 {
			return Constituent{}, fmt.Errorf("constituent %s: compound with doodson numbers", e.Name)
		}
		c.Nodal = ""
		return c, nil
	}
	if len(e.Doodson) != 6 {
		return Constituent{}, fmt.Errorf("constituent %s: want 6 doodson numbers, got %d", e.Name, len(e.Doodson))
	}
	copy(c.Doodson[:], e.Doodson)
	if c.Nodal == "" {
		c.Nodal = NodalNone
	}
	if !nodalFamilies[c.Nodal] {
		return Constituent{}, fmt.Errorf("constituent %s: unknown nodal family %q", e.Name, c.Nodal)
	}
	return c, nil
}

// Lookup returns the constituent called name.
func (t *Table) Lookup(name string) (Constituent, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Names returns the sorted constituent names. The slice is a copy.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of constituents.
func (t *Table) Len() int { return len(t.names) }

// Default returns the embedded standard table. It is parsed once per process.
var Default = sync.OnceValues(func() (*Table, error) {
	return Load(bytes.NewReader(defaultTable))
})
