// Package source reads tidal harmonic datasets stored as NetCDF classic or
// NetCDF-4 files.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// ConventionsMarker identifies tidal harmonic datasets in the global
// Conventions attribute. Matching is case-insensitive.
const ConventionsMarker = "utides"

var (
	magicCDF1 = []byte("CDF\x01")
	magicCDF2 = []byte("CDF\x02")
	magicHDF5 = []byte("\x89HDF\r\n\x1a\n")
)

// Dataset is read access to one source file. Implementations are not safe for
// concurrent use.
type Dataset interface {
	Path() string
	GlobalAttributes() []domain.Attribute
	Variables() []string
	Attributes(v string) []domain.Attribute
	Dimensions(v string) []string
	Shape(v string) []int
	// DataType is the NetCDF type name of v, e.g. "float", "double", "char".
	DataType(v string) string
	// ReadSlab reads the hyperslab [begin, end) of v in row-major order.
	// nil bounds select the whole variable.
	ReadSlab(v string, begin, end []int) ([]float64, error)
	// ReadChars reads a character variable as rows of width bytes.
	ReadChars(v string) (raw []byte, width int, err error)
	Close() error
}

// Open opens path and checks that it is a tidal harmonic dataset.
// Any other file yields a *domain.FormatError.
func Open(path string) (Dataset, error) {
	ds, err := openBackend(path)
	if err != nil {
		return nil, err
	}
	if err := checkConventions(ds); err != nil {
		_ = ds.Close()
		return nil, err
	}
	return ds, nil
}

// IsValid reports whether path is a readable tidal harmonic dataset.
func IsValid(path string) bool {
	ds, err := Open(path)
	if err != nil {
		return false
	}
	_ = ds.Close()
	return true
}

func openBackend(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewFormatError(path, "cannot open", err)
	}
	head := make([]byte, len(magicHDF5))
	n, err := io.ReadFull(f, head)
	_ = f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, domain.NewFormatError(path, "cannot read header", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicCDF1), bytes.HasPrefix(head, magicCDF2):
		return openClassic(path)
	case bytes.HasPrefix(head, magicHDF5):
		return openHDF5(path)
	default:
		return nil, domain.NewFormatError(path, "not a NetCDF file", nil)
	}
}

func checkConventions(ds Dataset) error {
	attr, ok := domain.FindAttribute(ds.GlobalAttributes(), "Conventions")
	if !ok {
		return domain.NewFormatError(ds.Path(), "no Conventions attribute", nil)
	}
	if !strings.Contains(strings.ToLower(attr.Text), ConventionsMarker) {
		return domain.NewFormatError(ds.Path(), fmt.Sprintf("Conventions %q is not a tidal harmonic convention", attr.Text), nil)
	}
	return nil
}

// FillValue returns the _FillValue of v.
func FillValue(ds Dataset, v string) (float64, bool) {
	attr, ok := domain.FindAttribute(ds.Attributes(v), "_FillValue")
	if !ok {
		return 0, false
	}
	return attr.Float()
}

// TextAttribute returns the text of attribute name on v ("" for global).
func TextAttribute(ds Dataset, v, name string) (string, bool) {
	attrs := ds.GlobalAttributes()
	if v != "" {
		attrs = ds.Attributes(v)
	}
	attr, ok := domain.FindAttribute(attrs, name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(attr.Text), true
}
