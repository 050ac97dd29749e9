package store

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/arrow"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/ipc"
	"github.com/apache/arrow/go/arrow/memory"

	"corpusidx/internal/fsutil"
)

type arrowFormat struct{}

func (arrowFormat) Name() string { return "arrow" }

func (arrowFormat) Open(path string, dtype DType, column string) arrayFile {
	return &arrowArray{path: path, dtype: dtype, column: column}
}

// arrowArray stores a 2-D array as one column per position (idx_0..idx_{W-1})
// and a 1-D array as a single named column, in one Arrow IPC stream.
// Every append rewrites the whole stream through a temp file.
type arrowArray struct {
	path   string
	dtype  DType
	column string
}

func (a *arrowArray) Path() string { return a.path }

func (a *arrowArray) arrowType(d DType) arrow.DataType {
	if d == Int64 {
		return arrow.PrimitiveTypes.Int64
	}
	return arrow.PrimitiveTypes.Int32
}

func (a *arrowArray) schema(width int, d DType) *arrow.Schema {
	typ := a.arrowType(d)
	if width == 0 {
		return arrow.NewSchema([]arrow.Field{{Name: a.column, Type: typ, Nullable: false}}, nil)
	}
	fields := make([]arrow.Field, width)
	for i := range fields {
		fields[i] = arrow.Field{Name: fmt.Sprintf("idx_%d", i), Type: typ, Nullable: false}
	}
	return arrow.NewSchema(fields, nil)
}

// layout derives width and element type from a stored schema.
func (a *arrowArray) layout(s *arrow.Schema) (int, DType, error) {
	fields := s.Fields()
	if len(fields) == 0 {
		return 0, a.dtype, fmt.Errorf("%w: %s: empty schema", ErrCorruptArray, a.path)
	}
	var d DType
	switch fields[0].Type.ID() {
	case arrow.INT32:
		d = Int32
	case arrow.INT64:
		d = Int64
	default:
		return 0, a.dtype, fmt.Errorf("%w: %s: unsupported column type %s", ErrCorruptArray, a.path, fields[0].Type)
	}
	if len(fields) == 1 && fields[0].Name == a.column {
		return 0, d, nil
	}
	return len(fields), d, nil
}

// scan walks every record batch. When decode is set, visit receives the
// columns as int64 slices; otherwise cols is nil.
func (a *arrowArray) scan(decode bool, visit func(rows int64, cols [][]int64)) (int, DType, error) {
	file, err := os.Open(a.path)
	if err != nil {
		return 0, a.dtype, err
	}
	defer file.Close()

	r, err := ipc.NewReader(file)
	if err != nil {
		return 0, a.dtype, fmt.Errorf("%w: %s: %v", ErrCorruptArray, a.path, err)
	}
	defer r.Release()

	width, dtype, err := a.layout(r.Schema())
	if err != nil {
		return 0, dtype, err
	}

	for r.Next() {
		batch := r.Record()
		var cols [][]int64
		if decode {
			cols = make([][]int64, batch.NumCols())
			for i := range cols {
				// Values are copied; the record is reused by the next call to Next.
				switch col := batch.Column(i).(type) {
				case *array.Int32:
					vals := col.Int32Values()
					cols[i] = make([]int64, len(vals))
					for j, v := range vals {
						cols[i][j] = int64(v)
					}
				case *array.Int64:
					cols[i] = append([]int64(nil), col.Int64Values()...)
				default:
					return 0, dtype, fmt.Errorf("%w: %s: column %d has type %s", ErrCorruptArray, a.path, i, col.DataType())
				}
			}
		}
		visit(batch.NumRows(), cols)
	}
	if err := r.Err(); err != nil {
		return 0, dtype, fmt.Errorf("%w: %s: %v", ErrCorruptArray, a.path, err)
	}
	return width, dtype, nil
}

func (a *arrowArray) Shape() (int64, int, bool, error) {
	if _, err := os.Stat(a.path); os.IsNotExist(err) {
		return 0, 0, false, nil
	}
	var rows int64
	width, _, err := a.scan(false, func(n int64, _ [][]int64) { rows += n })
	if err != nil {
		return 0, 0, true, err
	}
	return rows, width, true, nil
}

func (a *arrowArray) Read() (int, []int64, error) {
	var flat []int64
	width, _, err := a.scan(true, func(rows int64, cols [][]int64) {
		for r := int64(0); r < rows; r++ {
			for c := range cols {
				flat = append(flat, cols[c][r])
			}
		}
	})
	if err != nil {
		return 0, nil, err
	}
	return width, flat, nil
}

func (a *arrowArray) Digest() ([]byte, error) {
	return digestFile(a.path)
}

func (a *arrowArray) Append(width int, flat []int64) (int64, error) {
	dtype := a.dtype
	var existing []int64

	if _, err := os.Stat(a.path); err == nil {
		w, d, err := a.scan(true, func(rows int64, cols [][]int64) {
			for r := int64(0); r < rows; r++ {
				for c := range cols {
					existing = append(existing, cols[c][r])
				}
			}
		})
		if err != nil {
			return 0, err
		}
		if w != width {
			return 0, fmt.Errorf("%w: %s holds width %d, got %d", ErrWidthMismatch, a.path, w, width)
		}
		dtype = d
	}

	all := append(existing, flat...)
	rows := rowCount(width, len(all))
	schema := a.schema(width, dtype)

	err := fsutil.Replace(a.path, func(f *os.File) error {
		w := ipc.NewWriter(f, ipc.WithSchema(schema))
		rec, err := buildRecord(schema, width, dtype, all, rows, memory.NewGoAllocator())
		if err != nil {
			w.Close()
			return err
		}
		defer rec.Release()
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write arrow file %s: %w", a.path, err)
	}
	return rows, nil
}

// buildRecord lays a row-major flat array out column by column.
func buildRecord(schema *arrow.Schema, width int, dtype DType, flat []int64, rows int64, mem memory.Allocator) (array.Record, error) {
	ncols := width
	if width == 0 {
		ncols = 1
	}

	cols := make([]array.Interface, ncols)
	for c := 0; c < ncols; c++ {
		switch dtype {
		case Int64:
			b := array.NewInt64Builder(mem)
			b.Reserve(int(rows))
			for r := int64(0); r < rows; r++ {
				b.Append(flat[r*int64(ncols)+int64(c)])
			}
			cols[c] = b.NewArray()
			b.Release()
		default:
			b := array.NewInt32Builder(mem)
			b.Reserve(int(rows))
			for r := int64(0); r < rows; r++ {
				v := flat[r*int64(ncols)+int64(c)]
				if v < -1<<31 || v > 1<<31-1 {
					b.Release()
					return nil, fmt.Errorf("value %d overflows int32", v)
				}
				b.Append(int32(v))
			}
			cols[c] = b.NewArray()
			b.Release()
		}
	}

	rec := array.NewRecord(schema, cols, rows)
	for _, col := range cols {
		col.Release()
	}
	return rec, nil
}
