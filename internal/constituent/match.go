package constituent

// Match reconciles dataset constituent names with a set of reference names.
// Names are normalised first. extract lists the matched names in first-seen
// order; mask[i] is true when names[i] matched and is the first occurrence of
// its normalised name, so a repeated constituent is summed once. Unmatched
// names are dropped.
func Match(names, reference []string) (extract []string, mask []bool) {
	ref := make(map[string]struct{}, len(reference))
	for _, r := range reference {
		ref[Normalize(r)] = struct{}{}
	}

	mask = make([]bool, len(names))
	seen := make(map[string]struct{})
	for i, name := range names {
		n := Normalize(name)
		if _, ok := ref[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		mask[i] = true
		extract = append(extract, n)
	}
	return extract, mask
}

// Matcher matches dataset names against a reference table.
type Matcher struct {
	table *Table
	names []string
}

// NewMatcher returns a Matcher over t.
func NewMatcher(t *Table) *Matcher {
	return &Matcher{table: t, names: t.Names()}
}

// Match returns the matched names and mask for names against the table.
func (m *Matcher) Match(names []string) ([]string, []bool) {
	return Match(names, m.names)
}

// Resolve returns the table entries for the names selected by mask.
// Entries are aligned with the true positions of mask, in order.
func (m *Matcher) Resolve(names []string, mask []bool) []Constituent {
	var out []Constituent
	for i, keep := range mask {
		if !keep {
			continue
		}
		if c, ok := m.table.Lookup(Normalize(names[i])); ok {
			out = append(out, c)
		}
	}
	return out
}

// Table returns the reference table.
func (m *Matcher) Table() *Table { return m.table }
