package store

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var formats = []string{"npy", "arrow"}

func testPaths(t *testing.T, format string) Paths {
	t.Helper()
	dir := t.TempDir()
	ext := "." + format
	return Paths{
		Valid: filepath.Join(dir, "train_indices"+ext),
		Noise: filepath.Join(dir, "train_noise"+ext),
	}
}

func openStore(t *testing.T, p Paths, format string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(p, format, nil, opts...)
	require.NoError(t, err)
	return s
}

func rowsOf(n, width int, base int32) [][]int32 {
	rows := make([][]int32, n)
	for i := range rows {
		row := make([]int32, width)
		for j := range row {
			row[j] = base + int32(i*width+j)
		}
		rows[i] = row
	}
	return rows
}

func TestEmptyFlushIsNoop(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)
			require.NoError(t, s.Flush(nil, nil))
			require.NoError(t, s.Flush([][]int32{}, []int64{}))
			require.NoError(t, s.Close())

			entries, err := os.ReadDir(filepath.Dir(p.Valid))
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Equal(t, 0, s.Flushes())
		})
	}
}

func TestFlushCreatesThenAppends(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)

			require.NoError(t, s.Flush(rowsOf(2, 3, 0), []int64{1}))
			assert.Equal(t, int64(3), s.Cursor())
			require.NoError(t, s.Flush(rowsOf(1, 3, 100), []int64{3, 5}))
			assert.Equal(t, int64(6), s.Cursor())
			require.NoError(t, s.Close())

			s = openStore(t, p, format)
			defer s.Close()
			assert.Equal(t, int64(3), s.Rows())
			assert.Equal(t, int64(3), s.NoiseRows())
			assert.Equal(t, int64(6), s.Cursor())
			assert.Equal(t, 3, s.Width())

			rows, err := s.ReadRows()
			require.NoError(t, err)
			assert.Equal(t, [][]int32{{0, 1, 2}, {3, 4, 5}, {100, 101, 102}}, rows)

			noise, err := s.ReadNoise()
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3, 5}, noise)

			lines, err := s.LineNumbers()
			require.NoError(t, err)
			assert.Equal(t, []int64{0, 2, 4}, lines)
			assert.NoError(t, s.Verify())
		})
	}
}

func TestNoiseWrittenWithoutRows(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)
			require.NoError(t, s.Flush(nil, []int64{0, 1}))
			require.NoError(t, s.Close())

			_, err := os.Stat(p.Valid)
			assert.True(t, os.IsNotExist(err))

			s = openStore(t, p, format)
			defer s.Close()
			assert.Equal(t, int64(2), s.Cursor())
			assert.Equal(t, 0, s.Width())
			rows, err := s.ReadRows()
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestWidthMismatch(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)
			require.NoError(t, s.Flush(rowsOf(1, 4, 0), nil))

			err := s.Flush([][]int32{{1, 2, 3, 4}, {1, 2}}, nil)
			assert.ErrorIs(t, err, ErrWidthMismatch)
			assert.Equal(t, int64(1), s.Rows())
			require.NoError(t, s.Close())

			_, err = Open(p, format, nil, WithWidth(5))
			assert.ErrorIs(t, err, ErrWidthMismatch)
		})
	}
}

func TestInvalidNoise(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	defer s.Close()
	require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))

	tests := []struct {
		name  string
		rows  int
		noise []int64
	}{
		{"already classified", 0, []int64{1}},
		{"beyond flushed lines", 1, []int64{4}},
		{"duplicate", 1, []int64{2, 2}},
		{"out of order", 2, []int64{3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Flush(rowsOf(tt.rows, 2, 0), tt.noise)
			assert.ErrorIs(t, err, ErrInvalidNoise)
			assert.Equal(t, int64(2), s.Cursor())
		})
	}
}

func TestNPYHeaderLayout(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy", WithoutManifest())
	require.NoError(t, s.Flush(rowsOf(3, 4, -2), []int64{3}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(p.Valid)
	require.NoError(t, err)
	require.Len(t, data, npyHeaderSize+3*4*4)
	assert.Equal(t, npyMagic, data[:6])
	assert.Equal(t, byte(1), data[6])
	assert.Equal(t, uint16(npyHeaderSize-10), binary.LittleEndian.Uint16(data[8:10]))
	assert.Contains(t, string(data[10:npyHeaderSize]), "'descr': '<i4'")
	assert.Contains(t, string(data[10:npyHeaderSize]), "'shape': (3, 4)")
	assert.Equal(t, byte('\n'), data[npyHeaderSize-1])
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(data[npyHeaderSize:])))

	noise, err := os.ReadFile(p.Noise)
	require.NoError(t, err)
	require.Len(t, noise, npyHeaderSize+8)
	assert.Contains(t, string(noise[:npyHeaderSize]), "'descr': '<i8'")
	assert.Contains(t, string(noise[:npyHeaderSize]), "'shape': (1,)")
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(noise[npyHeaderSize:]))
}

// writeTightNPY writes a 1-D <i8 file whose header has no room to grow.
func writeTightNPY(t *testing.T, path string, vals []int64) {
	t.Helper()
	dict := "{'descr': '<i8', 'fortran_order': False, 'shape': (" + strconv.Itoa(len(vals)) + ",), }"
	hdr, err := encodeNPYHeader(1, "<i8", []int64{int64(len(vals))}, 10+len(dict)+1)
	require.NoError(t, err)
	data, err := encodeValues("<i8", vals)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(hdr, data...), 0644))
}

func TestNPYGrowsTightHeader(t *testing.T) {
	p := testPaths(t, "npy")
	writeTightNPY(t, p.Noise, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8})

	s := openStore(t, p, "npy")
	assert.Equal(t, int64(9), s.Cursor())
	require.NoError(t, s.Flush(nil, []int64{9}))
	require.NoError(t, s.Close())

	s = openStore(t, p, "npy")
	defer s.Close()
	noise, err := s.ReadNoise()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, noise)

	data, err := os.ReadFile(p.Noise)
	require.NoError(t, err)
	assert.Equal(t, uint16(npyHeaderSize-10), binary.LittleEndian.Uint16(data[8:10]))
}

func TestNPYTrailingBytesIgnored(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))
	require.NoError(t, s.Close())

	// An append that crashed before its header commit.
	f, err := os.OpenFile(p.Valid, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 9, 9, 9, 9, 9})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s = openStore(t, p, "npy")
	assert.Equal(t, int64(2), s.Rows())
	require.NoError(t, s.Flush(rowsOf(1, 2, 50), nil))
	require.NoError(t, s.Close())

	s = openStore(t, p, "npy")
	defer s.Close()
	rows, err := s.ReadRows()
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{0, 1}, {2, 3}, {50, 51}}, rows)
	fi, err := os.Stat(p.Valid)
	require.NoError(t, err)
	assert.Equal(t, int64(npyHeaderSize+3*2*4), fi.Size())
}

func TestManifestDetectsUncommittedRows(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)
			require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))
			require.NoError(t, s.Close())

			// Rows written behind the manifest's back.
			raw := openStore(t, p, format, WithoutManifest())
			require.NoError(t, raw.Flush(rowsOf(1, 2, 0), nil))
			require.NoError(t, raw.Close())

			_, err := Open(p, format, nil)
			assert.ErrorIs(t, err, ErrResumeInconsistency)
		})
	}
}

var errKilled = errors.New("killed")

// crash leaves s as a killed process would: no commit, no seal.
func crash(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.closeManifest())
}

func TestInterruptedFlushCompleted(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			s := openStore(t, p, format)
			require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))
			require.NoError(t, s.Close())

			s = openStore(t, p, format)
			s.afterAppend = func() error { return errKilled }
			err := s.Flush(rowsOf(1, 2, 10), []int64{3})
			require.ErrorIs(t, err, errKilled)
			crash(t, s)

			s = openStore(t, p, format)
			assert.Equal(t, int64(3), s.Rows())
			assert.Equal(t, int64(1), s.NoiseRows())
			assert.Equal(t, int64(4), s.Cursor())

			history, err := s.History()
			require.NoError(t, err)
			last := history[len(history)-1]
			assert.False(t, last.Pending)
			assert.Equal(t, int64(3), last.ValidRows)
			assert.Equal(t, int64(1), last.NoiseRows)

			require.NoError(t, s.Flush(rowsOf(1, 2, 20), nil))
			require.NoError(t, s.Close())

			s = openStore(t, p, format)
			assert.Equal(t, int64(5), s.Cursor())
			rows, err := s.ReadRows()
			require.NoError(t, err)
			assert.Equal(t, [][]int32{{0, 1}, {2, 3}, {10, 11}, {20, 21}}, rows)
			require.NoError(t, s.Close())
		})
	}
}

func TestInterruptedFlushNotStarted(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))
	require.NoError(t, s.intent(2, 3, 0))
	crash(t, s)

	s = openStore(t, p, "npy")
	defer s.Close()
	assert.Equal(t, int64(2), s.Cursor())
	_, pending, err := s.manifest.Pending()
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestInterruptedFlushHalfWritten(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	require.NoError(t, s.Flush(rowsOf(2, 2, 0), nil))
	require.NoError(t, s.intent(2, 1, 1))
	_, err := s.noise.Append(0, []int64{3})
	require.NoError(t, err)
	crash(t, s)

	_, err = Open(p, "npy", nil)
	assert.ErrorIs(t, err, ErrResumeInconsistency)

	ro, err := Open(p, "npy", nil, ReadOnly())
	if err == nil {
		ro.Close()
	}
	assert.ErrorIs(t, err, ErrResumeInconsistency)
}

func TestSealedDigestDetectsEdit(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	require.NoError(t, s.Flush(rowsOf(2, 2, 0), []int64{2}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(p.Valid)
	require.NoError(t, err)
	data[npyHeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(p.Valid, data, 0644))

	_, err = Open(p, "npy", nil)
	assert.ErrorIs(t, err, ErrResumeInconsistency)
}

func TestManifestFormatMismatch(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	require.NoError(t, s.Flush(nil, []int64{0}))
	require.NoError(t, s.Close())

	require.NoError(t, os.Remove(p.Noise))
	_, err := Open(p, "arrow", nil)
	assert.ErrorIs(t, err, ErrResumeInconsistency)
}

func TestArraysWithoutManifestAccepted(t *testing.T) {
	p := testPaths(t, "npy")
	raw := openStore(t, p, "npy", WithoutManifest())
	require.NoError(t, raw.Flush(rowsOf(3, 2, 0), []int64{3}))
	require.NoError(t, raw.Close())
	_, err := os.Stat(ManifestPath(p.Valid))
	assert.True(t, os.IsNotExist(err))

	s := openStore(t, p, "npy")
	assert.Equal(t, int64(4), s.Cursor())
	require.NoError(t, s.Flush(rowsOf(1, 2, 0), nil))
	require.NoError(t, s.Close())

	s = openStore(t, p, "npy")
	defer s.Close()
	commits, err := s.History()
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.False(t, commits[0].Sealed)
	assert.Equal(t, int64(5), commits[0].Cursor)
	assert.True(t, commits[1].Sealed)
	assert.NotEmpty(t, commits[1].ValidDigest)
	assert.NotEmpty(t, commits[1].NoiseDigest)
}

func TestSecondWriterLocked(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	defer s.Close()
	require.NoError(t, s.Flush(rowsOf(1, 2, 0), nil))

	_, err := Open(p, "npy", nil)
	assert.ErrorIs(t, err, ErrStoreLocked)

	ro, err := Open(p, "npy", nil, ReadOnly())
	require.NoError(t, err)
	st, err := ro.Stats()
	require.NoError(t, err)
	assert.True(t, st.ManifestLocked)
	assert.Equal(t, int64(1), st.Rows)
	assert.Error(t, ro.Flush(rowsOf(1, 2, 0), nil))
	require.NoError(t, ro.Close())
}

func TestFormatsStoreSameContent(t *testing.T) {
	read := func(format string) ([][]int32, []int64) {
		p := testPaths(t, format)
		s := openStore(t, p, format)
		require.NoError(t, s.Flush(rowsOf(4, 5, 0), []int64{0, 3}))
		require.NoError(t, s.Flush(rowsOf(2, 5, 1000), []int64{8}))
		require.NoError(t, s.Close())

		s = openStore(t, p, format, ReadOnly())
		defer s.Close()
		rows, err := s.ReadRows()
		require.NoError(t, err)
		noise, err := s.ReadNoise()
		require.NoError(t, err)
		return rows, noise
	}

	npyRows, npyNoise := read("npy")
	arrowRows, arrowNoise := read("arrow")
	assert.Equal(t, npyRows, arrowRows)
	assert.Equal(t, npyNoise, arrowNoise)
	assert.Len(t, npyRows, 6)
}

func TestCorruptArray(t *testing.T) {
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p := testPaths(t, format)
			require.NoError(t, os.WriteFile(p.Valid, []byte("definitely not an array"), 0644))
			_, err := Open(p, format, nil)
			assert.ErrorIs(t, err, ErrCorruptArray)
		})
	}

	t.Run("npy truncated data", func(t *testing.T) {
		p := testPaths(t, "npy")
		s := openStore(t, p, "npy", WithoutManifest())
		require.NoError(t, s.Flush(rowsOf(3, 2, 0), nil))
		require.NoError(t, s.Close())
		require.NoError(t, os.Truncate(p.Valid, npyHeaderSize+4))
		_, err := Open(p, "npy", nil)
		assert.ErrorIs(t, err, ErrCorruptArray)
	})
}

func TestUnknownFormat(t *testing.T) {
	_, err := Open(testPaths(t, "npy"), "hdf5", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestStats(t *testing.T) {
	p := testPaths(t, "arrow")
	s := openStore(t, p, "arrow")
	require.NoError(t, s.Flush(rowsOf(2, 3, 0), []int64{2}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, "arrow", st.Format)
	assert.Equal(t, int64(2), st.Rows)
	assert.Equal(t, int64(1), st.NoiseRows)
	assert.Equal(t, int64(3), st.Cursor)
	assert.Equal(t, 3, st.Width)
	assert.Positive(t, st.ValidBytes)
	assert.Positive(t, st.NoiseBytes)
	assert.Equal(t, 1, st.Commits)
	require.NotNil(t, st.LastCommit)
	assert.Equal(t, int64(3), st.LastCommit.Cursor)
	require.NoError(t, s.Close())
}

func TestExportParquetRoundTrip(t *testing.T) {
	p := testPaths(t, "npy")
	s := openStore(t, p, "npy")
	defer s.Close()
	require.NoError(t, s.Flush([][]int32{{1, 2, 3, 4, 5}, {6, 7, 8, 9, 10}}, []int64{1}))

	out := filepath.Join(t.TempDir(), "train.parquet")
	n, err := s.ExportParquet(out, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := ReadParquet(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].Line)
	assert.Equal(t, int64(2), rows[1].Line)
	assert.Equal(t, int64(1), rows[1].Row)
	assert.Equal(t, []int32{1, 2}, rows[0].Source)
	assert.Equal(t, []int32{3, 4, 5}, rows[0].Target)
	assert.Equal(t, []int32{8, 9, 10}, rows[1].Target)

	_, err = s.ExportParquet(out, 6, 1)
	assert.Error(t, err)
}
