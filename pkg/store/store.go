// Package store persists the valid-index and noise-index arrays of one
// dataset split and answers where a restarted conversion should resume.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"corpusidx/internal/logging"
)

// NoiseColumn names the single column of the noise array in columnar formats.
const NoiseColumn = "line_number"

// Paths locates the files of one dataset split.
type Paths struct {
	Valid string
	Noise string
	// Manifest defaults to ManifestPath(Valid).
	Manifest string
}

// ManifestPath returns the manifest location used for a valid-array path.
func ManifestPath(valid string) string {
	return strings.TrimSuffix(valid, filepath.Ext(valid)) + ".manifest.db"
}

// Option configures Open.
type Option func(*Store)

// WithoutManifest disables the commit manifest; resume falls back to array
// lengths alone.
func WithoutManifest() Option {
	return func(s *Store) { s.useManifest = false }
}

// ReadOnly opens the store for inspection. Flush fails and no manifest is
// created; a manifest held by a running writer is skipped.
func ReadOnly() Option {
	return func(s *Store) { s.readOnly = true }
}

// WithWidth fixes the expected row width. Existing arrays must match it.
func WithWidth(width int) Option {
	return func(s *Store) { s.width = width }
}

// Store is a single-writer handle over one split's arrays.
type Store struct {
	paths  Paths
	format format
	valid  arrayFile
	noise  arrayFile
	logger *logging.Logger

	manifest       *manifest
	useManifest    bool
	manifestLocked bool
	readOnly       bool

	width     int
	validRows int64
	noiseRows int64
	flushes   int
	dirty     bool

	// afterAppend runs between the array appends and the manifest commit.
	afterAppend func() error
}

// Stats summarizes a split on disk.
type Stats struct {
	Format         string  `json:"format"`
	ValidPath      string  `json:"valid_path"`
	NoisePath      string  `json:"noise_path"`
	Rows           int64   `json:"rows"`
	NoiseRows      int64   `json:"noise_rows"`
	Cursor         int64   `json:"cursor"`
	Width          int     `json:"width"`
	ValidBytes     int64   `json:"valid_bytes"`
	NoiseBytes     int64   `json:"noise_bytes"`
	Commits        int     `json:"commits"`
	LastCommit     *Commit `json:"last_commit,omitempty"`
	ManifestLocked bool    `json:"manifest_locked,omitempty"`
}

// Open reads the current array shapes and checks them against the manifest.
func Open(paths Paths, formatName string, logger *logging.Logger, opts ...Option) (*Store, error) {
	f, err := formatByName(formatName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if paths.Manifest == "" {
		paths.Manifest = ManifestPath(paths.Valid)
	}

	s := &Store{
		paths:       paths,
		format:      f,
		valid:       f.Open(paths.Valid, Int32, ""),
		noise:       f.Open(paths.Noise, Int64, NoiseColumn),
		logger:      logger,
		useManifest: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	vrows, vwidth, vexists, err := s.valid.Shape()
	if err != nil {
		return nil, err
	}
	nrows, nwidth, _, err := s.noise.Shape()
	if err != nil {
		return nil, err
	}
	if nwidth != 0 {
		return nil, fmt.Errorf("%w: %s: noise array must be 1-D, has width %d", ErrCorruptArray, paths.Noise, nwidth)
	}
	if vexists {
		if s.width > 0 && vwidth != s.width {
			return nil, fmt.Errorf("%w: %s holds width %d, expected %d", ErrWidthMismatch, paths.Valid, vwidth, s.width)
		}
		s.width = vwidth
	}
	s.validRows = vrows
	s.noiseRows = nrows

	if s.useManifest {
		if err := s.openManifest(false); err != nil {
			return nil, err
		}
		if err := s.checkManifest(); err != nil {
			s.closeManifest()
			return nil, err
		}
	}

	logger.Debug("Opened %s store %s: %d rows, %d noise, cursor %d",
		f.Name(), filepath.Base(paths.Valid), s.validRows, s.noiseRows, s.Cursor())
	return s, nil
}

// openManifest opens an existing manifest, or creates one when create is set.
func (s *Store) openManifest(create bool) error {
	if s.manifest != nil {
		return nil
	}
	if _, err := os.Stat(s.paths.Manifest); os.IsNotExist(err) && !create {
		return nil
	}
	if s.readOnly {
		m, err := openManifestReadOnly(s.paths.Manifest)
		if errors.Is(err, ErrStoreLocked) {
			s.manifestLocked = true
			return nil
		}
		if err != nil {
			return err
		}
		s.manifest = m
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.paths.Manifest), 0755); err != nil {
		return err
	}
	m, err := openManifest(s.paths.Manifest)
	if err != nil {
		return err
	}
	s.manifest = m
	return nil
}

func (s *Store) closeManifest() error {
	if s.manifest == nil {
		return nil
	}
	err := s.manifest.Close()
	s.manifest = nil
	return err
}

// checkManifest compares the arrays with the latest commit. Arrays without
// any commit are accepted as-is. The intent left by an interrupted flush is
// resolved against the counts before and after that flush.
func (s *Store) checkManifest() error {
	if s.manifest == nil {
		return nil
	}
	if p, ok, err := s.manifest.Pending(); err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	} else if ok {
		return s.resolvePending(p)
	}

	c, ok, err := s.manifest.Latest()
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	if !ok {
		if s.validRows+s.noiseRows > 0 {
			s.logger.Info("No manifest commit for %s; accepting %d rows and %d noise as found",
				filepath.Base(s.paths.Valid), s.validRows, s.noiseRows)
		}
		return nil
	}

	if c.Format != s.format.Name() {
		return fmt.Errorf("%w: manifest records format %s, store opened as %s", ErrResumeInconsistency, c.Format, s.format.Name())
	}
	if c.ValidRows != s.validRows || c.NoiseRows != s.noiseRows {
		return fmt.Errorf("%w: manifest commit %d has %d rows and %d noise, arrays have %d and %d",
			ErrResumeInconsistency, c.Seq, c.ValidRows, c.NoiseRows, s.validRows, s.noiseRows)
	}
	if !c.Sealed {
		return nil
	}

	vd, err := hexDigest(s.valid)
	if err != nil {
		return err
	}
	nd, err := hexDigest(s.noise)
	if err != nil {
		return err
	}
	if vd != c.ValidDigest || nd != c.NoiseDigest {
		return fmt.Errorf("%w: array contents differ from sealed manifest commit %d", ErrResumeInconsistency, c.Seq)
	}
	return nil
}

// resolvePending accepts arrays that either completed the interrupted flush
// or never started it. A completed flush is committed; one that never
// started just drops the intent. Any other pair means one array was
// appended without the other.
func (s *Store) resolvePending(c Commit) error {
	if c.Format != s.format.Name() {
		return fmt.Errorf("%w: manifest records format %s, store opened as %s", ErrResumeInconsistency, c.Format, s.format.Name())
	}
	completed := s.validRows == c.ValidRows && s.noiseRows == c.NoiseRows
	if !completed && (s.validRows != c.BaseValid || s.noiseRows != c.BaseNoise) {
		return fmt.Errorf("%w: interrupted flush from %d rows and %d noise to %d and %d, arrays have %d and %d",
			ErrResumeInconsistency, c.BaseValid, c.BaseNoise, c.ValidRows, c.NoiseRows, s.validRows, s.noiseRows)
	}
	state := "completed"
	if !completed {
		state = "not started"
	}

	s.logger.Warn("Interrupted flush on %s %s; resuming at cursor %d",
		filepath.Base(s.paths.Valid), state, s.Cursor())
	if s.readOnly {
		return nil
	}
	if !completed {
		return s.manifest.ClearPending()
	}
	return s.commit(false)
}

// Cursor is the next original line index to process: every line below it
// is either a valid row or a noise record.
func (s *Store) Cursor() int64 {
	return s.validRows + s.noiseRows
}

// Rows returns the committed valid-row count.
func (s *Store) Rows() int64 { return s.validRows }

// NoiseRows returns the committed noise-record count.
func (s *Store) NoiseRows() int64 { return s.noiseRows }

// Width returns the row width, or 0 before the first row is stored.
func (s *Store) Width() int { return s.width }

// Format returns the storage format name.
func (s *Store) Format() string { return s.format.Name() }

// Flushes returns how many flushes wrote to disk since Open.
func (s *Store) Flushes() int { return s.flushes }

// Flush appends rows to the valid array and noise to the noise array.
// With both empty it does nothing. Noise line numbers must be increasing
// and belong to the lines of this flush, i.e. lie in
// [Cursor(), Cursor()+len(rows)+len(noise)).
func (s *Store) Flush(rows [][]int32, noise []int64) error {
	if len(rows) == 0 && len(noise) == 0 {
		return nil
	}
	if s.readOnly {
		return fmt.Errorf("flush on read-only store %s", s.paths.Valid)
	}

	width := s.width
	if width == 0 && len(rows) > 0 {
		width = len(rows[0])
	}
	if len(rows) > 0 && width == 0 {
		return fmt.Errorf("%w: empty row", ErrWidthMismatch)
	}
	flat := make([]int64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has width %d, want %d", ErrWidthMismatch, i, len(row), width)
		}
		for _, v := range row {
			flat = append(flat, int64(v))
		}
	}

	cursor := s.Cursor()
	limit := cursor + int64(len(rows)+len(noise))
	prev := cursor - 1
	for _, n := range noise {
		if n <= prev || n >= limit {
			return fmt.Errorf("%w: %d outside [%d, %d) or out of order", ErrInvalidNoise, n, prev+1, limit)
		}
		prev = n
	}

	if s.useManifest {
		if err := s.intent(width, int64(len(rows)), int64(len(noise))); err != nil {
			return err
		}
	}

	if len(noise) > 0 {
		total, err := s.noise.Append(0, noise)
		if err != nil {
			return fmt.Errorf("failed to flush noise: %w", err)
		}
		s.noiseRows = total
	}
	if len(rows) > 0 {
		total, err := s.valid.Append(width, flat)
		if err != nil {
			return fmt.Errorf("failed to flush valid rows: %w", err)
		}
		s.validRows = total
		s.width = width
	}
	s.flushes++
	s.dirty = true

	if s.afterAppend != nil {
		if err := s.afterAppend(); err != nil {
			return err
		}
	}
	if s.useManifest {
		if err := s.commit(false); err != nil {
			return err
		}
	}

	s.logger.Info("Flushed %d rows and %d noise: %s has %d rows (width %d), %s has %d",
		len(rows), len(noise), filepath.Base(s.paths.Valid), s.validRows, s.width,
		filepath.Base(s.paths.Noise), s.noiseRows)
	return nil
}

func (s *Store) commit(seal bool) error {
	if err := s.openManifest(true); err != nil {
		return err
	}
	c := Commit{
		Format:    s.format.Name(),
		Width:     s.width,
		ValidRows: s.validRows,
		NoiseRows: s.noiseRows,
		Cursor:    s.Cursor(),
		Sealed:    seal,
	}
	if seal {
		var err error
		if c.ValidDigest, err = hexDigest(s.valid); err != nil {
			return err
		}
		if c.NoiseDigest, err = hexDigest(s.noise); err != nil {
			return err
		}
	}
	if _, err := s.manifest.Append(c); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

// intent records the counts a flush of rows and noise will reach.
func (s *Store) intent(width int, rows, noise int64) error {
	if err := s.openManifest(true); err != nil {
		return err
	}
	c := Commit{
		Format:    s.format.Name(),
		Width:     width,
		ValidRows: s.validRows + rows,
		NoiseRows: s.noiseRows + noise,
		Cursor:    s.Cursor() + rows + noise,
		BaseValid: s.validRows,
		BaseNoise: s.noiseRows,
	}
	if err := s.manifest.SetPending(c); err != nil {
		return fmt.Errorf("failed to record flush intent: %w", err)
	}
	return nil
}

// Verify checks the manifest and that the noise records partition the
// processed lines: strictly increasing and below the cursor.
func (s *Store) Verify() error {
	if err := s.checkManifest(); err != nil {
		return err
	}
	noise, err := s.ReadNoise()
	if err != nil {
		return err
	}
	prev := int64(-1)
	for i, n := range noise {
		if n <= prev {
			return fmt.Errorf("%w: noise record %d (%d) not increasing", ErrInvalidNoise, i, n)
		}
		if n >= s.Cursor() {
			return fmt.Errorf("%w: noise record %d (%d) beyond cursor %d", ErrInvalidNoise, i, n, s.Cursor())
		}
		prev = n
	}
	return nil
}

// ReadRows loads every valid row.
func (s *Store) ReadRows() ([][]int32, error) {
	if _, _, exists, err := s.valid.Shape(); err != nil || !exists {
		return nil, err
	}
	width, flat, err := s.valid.Read()
	if err != nil {
		return nil, err
	}
	if width == 0 {
		return nil, fmt.Errorf("%w: %s: valid array must be 2-D", ErrCorruptArray, s.paths.Valid)
	}
	rows := make([][]int32, len(flat)/width)
	for i := range rows {
		row := make([]int32, width)
		for j := range row {
			row[j] = int32(flat[i*width+j])
		}
		rows[i] = row
	}
	return rows, nil
}

// ReadNoise loads the noise line numbers in discovery order.
func (s *Store) ReadNoise() ([]int64, error) {
	if _, _, exists, err := s.noise.Shape(); err != nil || !exists {
		return nil, err
	}
	_, flat, err := s.noise.Read()
	return flat, err
}

// LineNumbers maps every valid row to its original line index.
func (s *Store) LineNumbers() ([]int64, error) {
	noise, err := s.ReadNoise()
	if err != nil {
		return nil, err
	}
	lines := make([]int64, 0, s.validRows)
	j := 0
	for i := int64(0); i < s.Cursor(); i++ {
		if j < len(noise) && noise[j] == i {
			j++
			continue
		}
		lines = append(lines, i)
	}
	if int64(len(lines)) != s.validRows {
		return nil, fmt.Errorf("%w: %d line numbers for %d rows", ErrInvalidNoise, len(lines), s.validRows)
	}
	return lines, nil
}

// History returns the manifest commits, oldest first.
func (s *Store) History() ([]Commit, error) {
	if s.manifest == nil {
		return nil, nil
	}
	return s.manifest.History()
}

// Stats reports shapes, file sizes and the latest commit.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		Format:         s.format.Name(),
		ValidPath:      s.paths.Valid,
		NoisePath:      s.paths.Noise,
		Rows:           s.validRows,
		NoiseRows:      s.noiseRows,
		Cursor:         s.Cursor(),
		Width:          s.width,
		ManifestLocked: s.manifestLocked,
	}
	if fi, err := os.Stat(s.paths.Valid); err == nil {
		st.ValidBytes = fi.Size()
	}
	if fi, err := os.Stat(s.paths.Noise); err == nil {
		st.NoiseBytes = fi.Size()
	}
	if s.manifest != nil {
		commits, err := s.manifest.History()
		if err != nil {
			return st, err
		}
		st.Commits = len(commits)
		if len(commits) > 0 {
			last := commits[len(commits)-1]
			st.LastCommit = &last
		}
	}
	return st, nil
}

// Close seals the manifest with file digests when this handle flushed.
func (s *Store) Close() error {
	var err error
	if s.dirty && s.useManifest && !s.readOnly {
		err = s.commit(true)
		s.dirty = false
	}
	if cerr := s.closeManifest(); err == nil {
		err = cerr
	}
	return err
}
