package constituent

import "strings"

// aliases maps legacy constituent names to their reference-table names.
var aliases = map[string]string{
	"STEADY": "Z0",
}

// Normalize trims padding from a constituent name and resolves aliases.
func Normalize(name string) string {
	name = strings.Trim(name, " \x00\t\r\n")
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return name
}

// DecodeNames splits fixed-width character rows into normalised names.
// raw holds len(raw)/width rows of width bytes each.
func DecodeNames(raw []byte, width int) []string {
	if width <= 0 {
		return nil
	}
	n := len(raw) / width
	names := make([]string, n)
	for i := range n {
		row := raw[i*width : (i+1)*width]
		// a NUL ends the name; anything after it is padding garbage
		if k := strings.IndexByte(string(row), 0); k >= 0 {
			row = row[:k]
		}
		names[i] = Normalize(string(row))
	}
	return names
}

// EncodeNames packs names into NUL-padded rows of width bytes.
// Names longer than width are truncated.
func EncodeNames(names []string, width int) []byte {
	out := make([]byte, len(names)*width)
	for i, name := range names {
		copy(out[i*width:(i+1)*width], name)
	}
	return out
}
