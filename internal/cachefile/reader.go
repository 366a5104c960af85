package cachefile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// DefaultChunkCacheSize is the number of decoded chunks kept per open file.
const DefaultChunkCacheSize = 512

// File is an open cache file. It is safe for concurrent readers.
type File struct {
	path   string
	f      *os.File
	footer footer
	index  map[string]int
	dims   map[string]int
	chunks *lruCache
	obs    ChunkObserver
}

// OpenOption configures Open.
type OpenOption func(*File)

// WithChunkCache sets how many decoded chunks are kept. Zero disables caching.
func WithChunkCache(n int) OpenOption {
	return func(f *File) { f.chunks = newLRUCache(n) }
}

// WithObserver reports chunk cache hits and misses to o.
func WithObserver(o ChunkObserver) OpenOption {
	return func(f *File) {
		if o != nil {
			f.obs = o
		}
	}
}

// Open reads and verifies the footer of the cache file at path.
func Open(path string, opts ...OpenOption) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	file := &File{
		path:   path,
		f:      osf,
		chunks: newLRUCache(DefaultChunkCacheSize),
		obs:    nopObserver{},
	}
	for _, opt := range opts {
		opt(file)
	}
	if err := file.readFooter(); err != nil {
		_ = osf.Close()
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return file, nil
}

func (f *File) readFooter() error {
	st, err := f.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < int64(headerSize+trailerSize) {
		return fmt.Errorf("%w: file too short", ErrCorrupt)
	}

	head := make([]byte, headerSize)
	if _, err := f.f.ReadAt(head, 0); err != nil {
		return err
	}
	if string(head[:len(magic)]) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(head[len(magic):]); v != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	trailer := make([]byte, trailerSize)
	if _, err := f.f.ReadAt(trailer, size-int64(trailerSize)); err != nil {
		return err
	}
	if string(trailer[16:]) != magic {
		return fmt.Errorf("%w: bad trailing magic", ErrCorrupt)
	}
	footerLen := int64(binary.LittleEndian.Uint64(trailer[0:]))
	footerHash := binary.LittleEndian.Uint64(trailer[8:])
	footerOff := size - int64(trailerSize) - footerLen
	if footerLen <= 0 || footerOff < int64(headerSize) {
		return fmt.Errorf("%w: bad footer length %d", ErrCorrupt, footerLen)
	}

	packed := make([]byte, footerLen)
	if _, err := f.f.ReadAt(packed, footerOff); err != nil {
		return err
	}
	if xxhash.Sum64(packed) != footerHash {
		return fmt.Errorf("%w: footer checksum mismatch", ErrCorrupt)
	}
	dec := getZstdDecoder()
	js, err := dec.DecodeAll(packed, nil)
	zstdDecoderPool.Put(dec)
	if err != nil {
		return fmt.Errorf("%w: footer: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(js, &f.footer); err != nil {
		return fmt.Errorf("%w: footer: %v", ErrCorrupt, err)
	}

	f.index = make(map[string]int, len(f.footer.Variables))
	for i, v := range f.footer.Variables {
		nr, nc := v.gridSize()
		if len(v.Chunks) != nr*nc {
			return fmt.Errorf("%w: variable %s has %d chunks, want %d", ErrCorrupt, v.Name, len(v.Chunks), nr*nc)
		}
		for _, c := range v.Chunks {
			if c.Offset < int64(headerSize) || c.Offset+c.Length > footerOff {
				return fmt.Errorf("%w: variable %s chunk outside data section", ErrCorrupt, v.Name)
			}
		}
		f.index[v.Name] = i
	}
	f.dims = make(map[string]int, len(f.footer.Dimensions))
	for _, d := range f.footer.Dimensions {
		f.dims[d.Name] = d.Len
	}
	return nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Attributes returns the global attributes.
func (f *File) Attributes() []domain.Attribute { return f.footer.Attributes }

// Attribute returns the global attribute called name.
func (f *File) Attribute(name string) (domain.Attribute, bool) {
	return domain.FindAttribute(f.footer.Attributes, name)
}

// Dimensions returns the declared dimensions in declaration order.
func (f *File) Dimensions() []Dimension { return f.footer.Dimensions }

// Dimension returns the length of a dimension.
func (f *File) Dimension(name string) (int, bool) {
	n, ok := f.dims[name]
	return n, ok
}

// Variables returns the stored variables in write order.
func (f *File) Variables() []Variable { return f.footer.Variables }

// Variable returns the description of a stored variable.
func (f *File) Variable(name string) (Variable, bool) {
	i, ok := f.index[name]
	if !ok {
		return Variable{}, false
	}
	return f.footer.Variables[i], true
}

func (f *File) lookup(name string) (int, Variable, error) {
	i, ok := f.index[name]
	if !ok {
		return 0, Variable{}, fmt.Errorf("cache %s: no variable %s", f.path, name)
	}
	return i, f.footer.Variables[i], nil
}

// chunk returns decoded chunk c of variable vi, through the LRU.
func (f *File) chunk(vi int, v Variable, c int) ([]float64, error) {
	key := chunkKey{variable: vi, chunk: c}
	if data, ok := f.chunks.get(key); ok {
		f.obs.ChunkCacheHit()
		return data, nil
	}
	f.obs.ChunkCacheMiss()

	ref := v.Chunks[c]
	block := make([]byte, ref.Length)
	if _, err := f.f.ReadAt(block, ref.Offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s chunk %d: %w", v.Name, c, err)
	}
	if xxhash.Sum64(block) != ref.Checksum {
		return nil, fmt.Errorf("%w: %s chunk %d checksum mismatch", ErrCorrupt, v.Name, c)
	}
	raw, err := decodeBlock(block, v.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s chunk %d: %v", ErrCorrupt, v.Name, c, err)
	}
	data, err := decodeElements(raw, v.DType, v.FillValue)
	if err != nil {
		return nil, fmt.Errorf("%s chunk %d: %w", v.Name, c, err)
	}
	f.chunks.put(key, data)
	return data, nil
}

// ReadVar reads a whole variable in row-major order. Fill values become NaN.
func (f *File) ReadVar(name string) ([]float64, error) {
	vi, v, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	rows, cols, _, _ := v.grid()
	all := make([]int, rows)
	for i := range all {
		all[i] = i
	}
	colIdx := make([]int, cols)
	for j := range colIdx {
		colIdx[j] = j
	}
	return f.readSubset(vi, v, all, colIdx)
}

// ReadRow reads one row of a rank-2 variable.
func (f *File) ReadRow(name string, row int) ([]float64, error) {
	vi, v, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(v.Shape) != 2 {
		return nil, fmt.Errorf("cache %s: %s is not rank 2", f.path, name)
	}
	cols := make([]int, v.Shape[1])
	for j := range cols {
		cols[j] = j
	}
	return f.readSubset(vi, v, []int{row}, cols)
}

// ReadChars reads a character variable as raw bytes.
func (f *File) ReadChars(name string) ([]byte, error) {
	_, v, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	if v.DType != Char {
		return nil, fmt.Errorf("cache %s: %s is %s, not char", f.path, name, v.DType)
	}
	vals, err := f.ReadVar(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(vals))
	for i, x := range vals {
		out[i] = byte(x)
	}
	return out, nil
}

// ReadSubset reads the cross product rows × cols of a rank-2 variable. The
// result is row-major with len(rows)*len(cols) values, in the order given.
// Only chunks intersecting the selection are read.
func (f *File) ReadSubset(name string, rows, cols []int) ([]float64, error) {
	vi, v, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(v.Shape) != 2 {
		return nil, fmt.Errorf("cache %s: %s is not rank 2", f.path, name)
	}
	return f.readSubset(vi, v, rows, cols)
}

func (f *File) readSubset(vi int, v Variable, rows, cols []int) ([]float64, error) {
	nrows, ncols, cr, cc := v.grid()
	_, gridCols := v.gridSize()
	for _, r := range rows {
		if r < 0 || r >= nrows {
			return nil, fmt.Errorf("cache %s: %s row %d out of range [0, %d)", f.path, v.Name, r, nrows)
		}
	}
	for _, c := range cols {
		if c < 0 || c >= ncols {
			return nil, fmt.Errorf("cache %s: %s column %d out of range [0, %d)", f.path, v.Name, c, ncols)
		}
	}

	// collect the touched chunks first so each is decoded once per call
	touched := roaring.New()
	for _, r := range rows {
		a := r / cr
		for _, c := range cols {
			touched.Add(uint32(a*gridCols + c/cc))
		}
	}
	decoded := make(map[int][]float64, touched.GetCardinality())
	it := touched.Iterator()
	for it.HasNext() {
		c := int(it.Next())
		data, err := f.chunk(vi, v, c)
		if err != nil {
			return nil, err
		}
		decoded[c] = data
	}

	out := make([]float64, 0, len(rows)*len(cols))
	for _, r := range rows {
		a := r / cr
		r0 := a * cr
		for _, c := range cols {
			b := c / cc
			c0 := b * cc
			width := min(c0+cc, ncols) - c0
			out = append(out, decoded[a*gridCols+b][(r-r0)*width+(c-c0)])
		}
	}
	return out, nil
}

// Close releases the file.
func (f *File) Close() error {
	return f.f.Close()
}
