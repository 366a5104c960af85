package cachefile

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// WriterOptions configure a Writer.
type WriterOptions struct {
	Compression Compression // default zstd
	// Workers bounds parallel chunk compression. Default 1.
	Workers int
}

// VarSpec declares a variable. Shape is taken from the named dimensions.
// ChunkShape defaults to the whole variable.
type VarSpec struct {
	Name       string
	DType      string
	Dims       []string
	ChunkShape []int
	FillValue  *float64
	Attributes []domain.Attribute
}

// Writer creates a cache file. Data goes to a temporary file next to the
// target, which replaces the target only on Commit. A Writer is not safe for
// concurrent use.
type Writer struct {
	target string
	opts   WriterOptions

	tmp    *os.File
	buf    *bufio.Writer
	offset int64

	footer footer
	dims   map[string]int
	open   *RowWriter
	done   bool
}

// Create starts a cache file that will be published at path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	if opts.Compression == "" {
		opts.Compression = CompressionZSTD
	}
	if _, err := ParseCompression(string(opts.Compression)); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp cache: %w", err)
	}
	w := &Writer{
		target: path,
		opts:   opts,
		tmp:    tmp,
		buf:    bufio.NewWriterSize(tmp, 256*1024),
		footer: footer{Version: formatVersion},
		dims:   make(map[string]int),
	}

	head := make([]byte, headerSize)
	copy(head, magic)
	binary.LittleEndian.PutUint16(head[len(magic):], formatVersion)
	if err := w.write(head); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// SetAttributes replaces the global attributes.
func (w *Writer) SetAttributes(attrs []domain.Attribute) {
	w.footer.Attributes = slices.Clone(attrs)
}

// AddDimension declares a dimension. Redeclaring with the same length is a no-op.
func (w *Writer) AddDimension(name string, n int) error {
	if n < 0 {
		return fmt.Errorf("dimension %s: negative length %d", name, n)
	}
	if cur, ok := w.dims[name]; ok {
		if cur != n {
			return fmt.Errorf("dimension %s redeclared with length %d, was %d", name, n, cur)
		}
		return nil
	}
	w.dims[name] = n
	w.footer.Dimensions = append(w.footer.Dimensions, Dimension{Name: name, Len: n})
	return nil
}

func (w *Writer) declare(spec VarSpec) (Variable, error) {
	if w.done {
		return Variable{}, fmt.Errorf("writer already finished")
	}
	if w.open != nil {
		return Variable{}, fmt.Errorf("variable %s: row writer for %s still open", spec.Name, w.open.v.Name)
	}
	for _, v := range w.footer.Variables {
		if v.Name == spec.Name {
			return Variable{}, fmt.Errorf("variable %s written twice", spec.Name)
		}
	}
	if _, err := elementSize(spec.DType); err != nil {
		return Variable{}, fmt.Errorf("variable %s: %w", spec.Name, err)
	}
	if len(spec.Dims) < 1 || len(spec.Dims) > 2 {
		return Variable{}, fmt.Errorf("variable %s: rank %d not supported", spec.Name, len(spec.Dims))
	}

	shape := make([]int, len(spec.Dims))
	for k, d := range spec.Dims {
		n, ok := w.dims[d]
		if !ok {
			return Variable{}, fmt.Errorf("variable %s: unknown dimension %s", spec.Name, d)
		}
		shape[k] = n
	}
	chunk := slices.Clone(spec.ChunkShape)
	if chunk == nil {
		chunk = slices.Clone(shape)
	}
	if len(chunk) != len(shape) {
		return Variable{}, fmt.Errorf("variable %s: chunk rank %d, want %d", spec.Name, len(chunk), len(shape))
	}
	for k := range chunk {
		chunk[k] = max(1, min(chunk[k], shape[k]))
	}

	v := Variable{
		Name:        spec.Name,
		DType:       spec.DType,
		Dims:        slices.Clone(spec.Dims),
		Shape:       shape,
		ChunkShape:  chunk,
		Compression: w.opts.Compression,
		FillValue:   spec.FillValue,
		Attributes:  slices.Clone(spec.Attributes),
	}
	nr, nc := v.gridSize()
	v.Chunks = make([]ChunkRef, nr*nc)
	return v, nil
}

// WriteVar writes a whole variable at once.
func (w *Writer) WriteVar(spec VarSpec, data []float64) error {
	v, err := w.declare(spec)
	if err != nil {
		return err
	}
	if len(data) != v.Len() {
		return fmt.Errorf("variable %s: %d values for shape %v", v.Name, len(data), v.Shape)
	}
	rows, cols, _, _ := v.grid()
	rw := &RowWriter{w: w, v: v, band: make([]float64, 0, len(data))}
	w.open = rw
	for r := range rows {
		if err := rw.WriteRow(data[r*cols : (r+1)*cols]); err != nil {
			return err
		}
	}
	return rw.Close()
}

// WriteChars writes a character variable from raw bytes.
func (w *Writer) WriteChars(spec VarSpec, raw []byte) error {
	spec.DType = Char
	data := make([]float64, len(raw))
	for i, b := range raw {
		data[i] = float64(b)
	}
	return w.WriteVar(spec, data)
}

// Rows starts streaming a variable one row at a time. Only one RowWriter may
// be open at once; it must be closed before the next variable is declared.
func (w *Writer) Rows(spec VarSpec) (*RowWriter, error) {
	v, err := w.declare(spec)
	if err != nil {
		return nil, err
	}
	_, cols, cr, _ := v.grid()
	rw := &RowWriter{w: w, v: v, band: make([]float64, 0, cr*cols)}
	w.open = rw
	return rw, nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.buf.Write(p)
	w.offset += int64(n)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Commit writes the footer and atomically replaces the target file.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("writer already finished")
	}
	if w.open != nil {
		w.Abort()
		return fmt.Errorf("variable %s not closed", w.open.v.Name)
	}
	w.done = true

	if err := w.commit(); err != nil {
		_ = w.tmp.Close()
		_ = os.Remove(w.tmp.Name())
		return err
	}
	return nil
}

func (w *Writer) commit() error {
	js, err := json.Marshal(w.footer)
	if err != nil {
		return fmt.Errorf("encode footer: %w", err)
	}
	enc := getZstdEncoder()
	packed := enc.EncodeAll(js, nil)
	zstdEncoderPool.Put(enc)

	trailer := make([]byte, trailerSize)
	binary.LittleEndian.PutUint64(trailer[0:], uint64(len(packed)))
	binary.LittleEndian.PutUint64(trailer[8:], xxhash.Sum64(packed))
	copy(trailer[16:], magic)

	if err := w.write(packed); err != nil {
		return err
	}
	if err := w.write(trailer); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		return fmt.Errorf("sync cache: %w", err)
	}
	_ = w.tmp.Chmod(0o644)
	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.target); err != nil {
		return fmt.Errorf("publish cache: %w", err)
	}
	if d, err := os.Open(filepath.Dir(w.target)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Abort discards the temporary file. The target is left untouched. Abort after
// Commit does nothing.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

// RowWriter streams the rows of one variable. Rows are buffered one chunk band
// (chunk rows × all columns) at a time; a full band is split into chunks,
// compressed in parallel and appended in order.
type RowWriter struct {
	w    *Writer
	v    Variable
	band []float64
	row  int // rows accepted so far
	// bandIdx is the chunk row of the buffered band.
	bandIdx int
}

// WriteRow appends the next row.
func (rw *RowWriter) WriteRow(row []float64) error {
	rows, cols, cr, _ := rw.v.grid()
	if len(row) != cols {
		return fmt.Errorf("variable %s row %d: %d values, want %d", rw.v.Name, rw.row, len(row), cols)
	}
	if rw.row >= rows {
		return fmt.Errorf("variable %s: more than %d rows", rw.v.Name, rows)
	}
	rw.band = append(rw.band, row...)
	rw.row++
	if rw.row%cr == 0 || rw.row == rows {
		return rw.flush()
	}
	return nil
}

// Rows returns the number of rows written so far.
func (rw *RowWriter) Rows() int { return rw.row }

func (rw *RowWriter) flush() error {
	_, cols, _, cc := rw.v.grid()
	_, nc := rw.v.gridSize()
	bandRows := 0
	if cols > 0 {
		bandRows = len(rw.band) / cols
	}

	blocks := make([][]byte, nc)
	var g errgroup.Group
	g.SetLimit(rw.w.opts.Workers)
	for b := range nc {
		g.Go(func() error {
			c0 := b * cc
			c1 := min(c0+cc, cols)
			chunk := make([]float64, 0, bandRows*(c1-c0))
			for r := range bandRows {
				chunk = append(chunk, rw.band[r*cols+c0:r*cols+c1]...)
			}
			raw, err := encodeElements(chunk, rw.v.DType, rw.v.FillValue)
			if err != nil {
				return err
			}
			block, err := encodeBlock(raw, rw.v.Compression)
			if err != nil {
				return err
			}
			blocks[b] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("variable %s: encode chunk band %d: %w", rw.v.Name, rw.bandIdx, err)
	}

	for b, block := range blocks {
		ref := ChunkRef{Offset: rw.w.offset, Length: int64(len(block)), Checksum: xxhash.Sum64(block)}
		if err := rw.w.write(block); err != nil {
			return err
		}
		rw.v.Chunks[rw.bandIdx*nc+b] = ref
	}
	rw.bandIdx++
	rw.band = rw.band[:0]
	return nil
}

// Close finishes the variable. Every row must have been written.
func (rw *RowWriter) Close() error {
	if rw.w.open != rw {
		return fmt.Errorf("variable %s: row writer already closed", rw.v.Name)
	}
	rw.w.open = nil
	rows, _, _, _ := rw.v.grid()
	if rw.row != rows {
		return fmt.Errorf("variable %s: %d of %d rows written", rw.v.Name, rw.row, rows)
	}
	rw.w.footer.Variables = append(rw.w.footer.Variables, rw.v)
	return nil
}
