package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"corpusidx/internal/fsutil"
)

// npyHeaderSize is the header size used for files this package creates.
// The spare room lets the shape grow in place for the life of the file.
const npyHeaderSize = 128

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

type npyHeader struct {
	major      byte
	descr      string
	shape      []int64
	dataOffset int64
}

func (h npyHeader) elemSize() int64 {
	if h.descr == "<i8" {
		return 8
	}
	return 4
}

// width is 0 for 1-D arrays.
func (h npyHeader) width() int {
	if len(h.shape) < 2 {
		return 0
	}
	return int(h.shape[1])
}

func (h npyHeader) rows() int64 {
	if len(h.shape) == 0 {
		return 0
	}
	return h.shape[0]
}

func (h npyHeader) rowBytes() int64 {
	if w := h.width(); w > 0 {
		return int64(w) * h.elemSize()
	}
	return h.elemSize()
}

func (h npyHeader) committedEnd() int64 {
	return h.dataOffset + h.rows()*h.rowBytes()
}

func npyShape(rows int64, width int) []int64 {
	if width == 0 {
		return []int64{rows}
	}
	return []int64{rows, int64(width)}
}

func npyDescr(d DType) string {
	if d == Int64 {
		return "<i8"
	}
	return "<i4"
}

func shapeString(shape []int64) string {
	if len(shape) == 1 {
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.FormatInt(s, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// encodeNPYHeader renders a header of exactly total bytes, padding the
// dictionary with spaces. It fails when the dictionary does not fit.
func encodeNPYHeader(major byte, descr string, shape []int64, total int) ([]byte, error) {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeString(shape))

	prefix := 10
	if major >= 2 {
		prefix = 12
	}
	if prefix+len(dict)+1 > total {
		return nil, fmt.Errorf("npy header of %d bytes too small for shape %s", total, shapeString(shape))
	}

	buf := make([]byte, total)
	copy(buf, npyMagic)
	buf[6] = major
	buf[7] = 0
	if major >= 2 {
		binary.LittleEndian.PutUint32(buf[8:12], uint32(total-prefix))
	} else {
		binary.LittleEndian.PutUint16(buf[8:10], uint16(total-prefix))
	}
	n := copy(buf[prefix:], dict)
	for i := prefix + n; i < total-1; i++ {
		buf[i] = ' '
	}
	buf[total-1] = '\n'
	return buf, nil
}

func readNPYHeader(r io.Reader, path string) (npyHeader, error) {
	var h npyHeader
	fixed := make([]byte, 10)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, fmt.Errorf("%w: %s: short header: %v", ErrCorruptArray, path, err)
	}
	if !bytes.Equal(fixed[:6], npyMagic) {
		return h, fmt.Errorf("%w: %s: not an npy file", ErrCorruptArray, path)
	}
	h.major = fixed[6]

	var dictLen int64
	switch h.major {
	case 1:
		dictLen = int64(binary.LittleEndian.Uint16(fixed[8:10]))
		h.dataOffset = 10 + dictLen
	case 2, 3:
		more := make([]byte, 2)
		if _, err := io.ReadFull(r, more); err != nil {
			return h, fmt.Errorf("%w: %s: short header: %v", ErrCorruptArray, path, err)
		}
		dictLen = int64(binary.LittleEndian.Uint32(append(fixed[8:10:10], more...)))
		h.dataOffset = 12 + dictLen
	default:
		return h, fmt.Errorf("%w: %s: unsupported npy version %d", ErrCorruptArray, path, h.major)
	}
	if dictLen <= 0 || dictLen > 1<<20 {
		return h, fmt.Errorf("%w: %s: header length %d", ErrCorruptArray, path, dictLen)
	}

	dict := make([]byte, dictLen)
	if _, err := io.ReadFull(r, dict); err != nil {
		return h, fmt.Errorf("%w: %s: short header: %v", ErrCorruptArray, path, err)
	}

	m := npyDescrRe.FindSubmatch(dict)
	if m == nil {
		return h, fmt.Errorf("%w: %s: header has no descr", ErrCorruptArray, path)
	}
	h.descr = string(m[1])
	if h.descr != "<i4" && h.descr != "<i8" {
		return h, fmt.Errorf("%w: %s: unsupported dtype %s", ErrCorruptArray, path, h.descr)
	}
	if m := npyFortranRe.FindSubmatch(dict); m != nil && string(m[1]) == "True" {
		return h, fmt.Errorf("%w: %s: fortran order not supported", ErrCorruptArray, path)
	}

	m = npyShapeRe.FindSubmatch(dict)
	if m == nil {
		return h, fmt.Errorf("%w: %s: header has no shape", ErrCorruptArray, path)
	}
	for _, part := range strings.Split(string(m[1]), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v < 0 {
			return h, fmt.Errorf("%w: %s: bad shape %q", ErrCorruptArray, path, m[1])
		}
		h.shape = append(h.shape, v)
	}
	if len(h.shape) != 1 && len(h.shape) != 2 {
		return h, fmt.Errorf("%w: %s: %d-D arrays not supported", ErrCorruptArray, path, len(h.shape))
	}
	return h, nil
}

func encodeValues(descr string, flat []int64) ([]byte, error) {
	if descr == "<i8" {
		buf := make([]byte, 8*len(flat))
		for i, v := range flat {
			binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
		}
		return buf, nil
	}
	buf := make([]byte, 4*len(flat))
	for i, v := range flat {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows int32", v)
		}
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(int32(v)))
	}
	return buf, nil
}

func decodeValues(descr string, buf []byte) []int64 {
	if descr == "<i8" {
		out := make([]int64, len(buf)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(buf[8*i:]))
		}
		return out
	}
	out := make([]int64, len(buf)/4)
	for i := range out {
		out[i] = int64(int32(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return out
}

type npyFormat struct{}

func (npyFormat) Name() string { return "npy" }

func (npyFormat) Open(path string, dtype DType, _ string) arrayFile {
	return &npyArray{path: path, dtype: dtype}
}

// npyArray appends in place: new rows go past the committed region, then
// the header shape is rewritten. Bytes past the shape are ignored on read.
type npyArray struct {
	path  string
	dtype DType
}

func (a *npyArray) Path() string { return a.path }

func (a *npyArray) header() (npyHeader, *os.File, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return npyHeader{}, nil, err
	}
	h, err := readNPYHeader(f, a.path)
	if err != nil {
		f.Close()
		return h, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return h, nil, err
	}
	if fi.Size() < h.committedEnd() {
		f.Close()
		return h, nil, fmt.Errorf("%w: %s: %d bytes, header promises %d", ErrCorruptArray, a.path, fi.Size(), h.committedEnd())
	}
	return h, f, nil
}

func (a *npyArray) Shape() (int64, int, bool, error) {
	h, f, err := a.header()
	if os.IsNotExist(err) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, true, err
	}
	f.Close()
	return h.rows(), h.width(), true, nil
}

func (a *npyArray) Read() (int, []int64, error) {
	h, f, err := a.header()
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	buf := make([]byte, h.rows()*h.rowBytes())
	if _, err := f.ReadAt(buf, h.dataOffset); err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrCorruptArray, a.path, err)
	}
	return h.width(), decodeValues(h.descr, buf), nil
}

func (a *npyArray) Digest() ([]byte, error) {
	h, f, err := a.header()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return digestReader(f, h.committedEnd())
}

func (a *npyArray) Append(width int, flat []int64) (int64, error) {
	n := rowCount(width, len(flat))

	h, rf, err := a.header()
	if os.IsNotExist(err) {
		return n, a.create(width, flat)
	}
	if err != nil {
		return 0, err
	}
	rf.Close()

	if h.width() != width {
		return 0, fmt.Errorf("%w: %s holds width %d, got %d", ErrWidthMismatch, a.path, h.width(), width)
	}
	total := h.rows() + n

	hdr, err := encodeNPYHeader(h.major, h.descr, npyShape(total, width), int(h.dataOffset))
	if err != nil {
		// Header written elsewhere with no room to grow.
		return total, a.rewrite(h, width, flat)
	}
	data, err := encodeValues(h.descr, flat)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(a.path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	end := h.committedEnd()
	if _, err := f.WriteAt(data, end); err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", a.path, err)
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return 0, fmt.Errorf("failed to commit header of %s: %w", a.path, err)
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	if fi, err := f.Stat(); err == nil && fi.Size() > end+int64(len(data)) {
		_ = f.Truncate(end + int64(len(data)))
	}
	return total, nil
}

func (a *npyArray) create(width int, flat []int64) error {
	descr := npyDescr(a.dtype)
	hdr, err := encodeNPYHeader(1, descr, npyShape(rowCount(width, len(flat)), width), npyHeaderSize)
	if err != nil {
		return err
	}
	data, err := encodeValues(descr, flat)
	if err != nil {
		return err
	}
	return fsutil.Replace(a.path, func(f *os.File) error {
		if _, err := f.Write(hdr); err != nil {
			return err
		}
		_, err := f.Write(data)
		return err
	})
}

// rewrite copies the committed rows plus flat into a fresh file with a
// growable header and renames it over the original.
func (a *npyArray) rewrite(h npyHeader, width int, flat []int64) error {
	_, existing, err := a.Read()
	if err != nil {
		return err
	}
	all := append(existing, flat...)

	hdr, err := encodeNPYHeader(1, h.descr, npyShape(rowCount(width, len(all)), width), npyHeaderSize)
	if err != nil {
		return err
	}
	data, err := encodeValues(h.descr, all)
	if err != nil {
		return err
	}
	return fsutil.Replace(a.path, func(f *os.File) error {
		if _, err := f.Write(hdr); err != nil {
			return err
		}
		_, err := f.Write(data)
		return err
	})
}
