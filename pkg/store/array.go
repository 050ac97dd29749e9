package store

import "fmt"

// DType is the element type used when an array file is first created.
// Existing files keep the type they were written with.
type DType int

const (
	Int32 DType = iota
	Int64
)

func (d DType) size() int {
	if d == Int64 {
		return 8
	}
	return 4
}

// arrayFile is one on-disk integer array. Width 0 means a 1-D array;
// otherwise the array is 2-D with Width columns. Values travel as a flat
// row-major []int64 regardless of the stored element type.
type arrayFile interface {
	// Shape reports committed rows and width; exists is false when the file
	// is missing.
	Shape() (rows int64, width int, exists bool, err error)
	// Append adds len(flat)/width rows (len(flat) values for 1-D) and returns
	// the committed row count.
	Append(width int, flat []int64) (int64, error)
	Read() (width int, flat []int64, err error)
	// Digest hashes the committed content.
	Digest() ([]byte, error)
	Path() string
}

// format creates arrayFile handles for one storage layout.
type format interface {
	Name() string
	Open(path string, dtype DType, column string) arrayFile
}

func formatByName(name string) (format, error) {
	switch name {
	case "", "npy":
		return npyFormat{}, nil
	case "arrow":
		return arrowFormat{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

func rowCount(width int, n int) int64 {
	if width == 0 {
		return int64(n)
	}
	return int64(n / width)
}
