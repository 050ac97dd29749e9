// Package converter turns an aligned pair of text corpora into fixed-width
// index arrays, resuming from whatever a previous run already stored.
package converter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"corpusidx/internal/config"
	"corpusidx/internal/execctx"
	"corpusidx/pkg/encoder"
	"corpusidx/pkg/store"
	"corpusidx/pkg/vocab"
)

// DefaultWindow is the number of rows buffered before a flush.
const DefaultWindow = 700

const progressEvery = 1000

// VocabLoader returns the source and target vocabularies.
type VocabLoader func(cfg *config.Config) (*vocab.Vocabulary, *vocab.Vocabulary, error)

// Result summarizes one Convert call.
type Result struct {
	Kind    string `json:"kind"`
	Lines   int64  `json:"lines"`
	Skipped int64  `json:"skipped"`
	Encoded int64  `json:"encoded"`
	Noise   int64  `json:"noise"`
	Flushes int    `json:"flushes"`
	Cursor  int64  `json:"cursor"`
}

type Converter struct {
	env     *execctx.Env
	encoder encoder.SentenceEncoder
	vocabs  VocabLoader
}

func New(env *execctx.Env, enc encoder.SentenceEncoder) *Converter {
	return &Converter{env: env, encoder: enc, vocabs: vocab.Load}
}

// WithVocabLoader replaces the loader used by Convert.
func (c *Converter) WithVocabLoader(l VocabLoader) *Converter {
	c.vocabs = l
	return c
}

// SplitPaths resolves the store files for kind under the configured data dir.
func SplitPaths(cfg *config.Config, kind string) (store.Paths, bool) {
	split, ok := cfg.Split(kind)
	if !ok {
		return store.Paths{}, false
	}
	return store.Paths{
		Valid: cfg.Resolve(split.FilenameToSave),
		Noise: cfg.Resolve(split.FilenameToSaveNoise),
	}, true
}

// OpenStore opens the store of kind with the configured format and manifest setting.
func OpenStore(env *execctx.Env, kind string, opts ...store.Option) (*store.Store, error) {
	paths, ok := SplitPaths(env.Config, kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatasetKind, kind)
	}
	if env.Config.Storage.DisableManifest {
		opts = append(opts, store.WithoutManifest())
	}
	return store.Open(paths, env.Config.Storage.Format, env.Logger, opts...)
}

// Convert encodes the kind split line by line, flushing every window rows.
// Lines below the store's cursor are skipped without being encoded.
func (c *Converter) Convert(ctx context.Context, kind string, window int) (Result, error) {
	res := Result{Kind: kind}
	cfg := c.env.Config
	log := c.env.Logger

	split, ok := cfg.Split(kind)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownDatasetKind, kind)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	vnPath := cfg.Resolve(split.VnFilename)
	enPath := cfg.Resolve(split.EnFilename)

	vn, en, err := c.vocabs(cfg)
	if err != nil {
		return res, err
	}

	st, err := OpenStore(c.env, kind, store.WithWidth(cfg.RowWidth()))
	if err != nil {
		return res, fmt.Errorf("failed to open %s store: %w", kind, err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error("Failed to close %s store: %v", kind, cerr)
		}
	}()

	cursor := st.Cursor()
	res.Cursor = cursor
	if cursor > 0 {
		log.Info("Resuming %s from line %d (%d rows, %d noise already stored)", kind, cursor, st.Rows(), st.NoiseRows())
	}

	targets, err := readLines(enPath)
	if err != nil {
		return res, fmt.Errorf("failed to read target corpus: %w", err)
	}

	src, err := os.Open(vnPath)
	if err != nil {
		return res, fmt.Errorf("failed to open source corpus: %w", err)
	}
	defer src.Close()

	bar := log.NewProgress(kind, int64(len(targets)))
	defer bar.Done()

	batch := NewBatch(window)
	flush := func() error {
		if batch.Empty() {
			return nil
		}
		rows, noise := batch.Drain()
		if err := st.Flush(rows, noise); err != nil {
			return err
		}
		res.Flushes++
		res.Cursor = st.Cursor()
		c.env.LogMemory("after flush")
		return nil
	}

	vnMax := cfg.Preprocessing.VnMaxIndices
	enMax := cfg.Preprocessing.EnMaxIndices
	reader := bufio.NewReader(src)

	for i := int64(0); ; i++ {
		line, rerr := reader.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return res, fmt.Errorf("failed to read source corpus: %w", rerr)
		}
		if line == "" {
			// io.EOF; a final line without newline came back on the previous read.
			break
		}

		if err := ctx.Err(); err != nil {
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
			log.Warn("Conversion of %s cancelled at line %d", kind, i)
			return res, err
		}

		res.Lines++
		if i < cursor {
			res.Skipped++
			continue
		}
		if i >= int64(len(targets)) {
			if err := flush(); err != nil {
				return res, err
			}
			return res, fmt.Errorf("%w: source line %d has no target line (%d target lines)", ErrCorpusMisaligned, i, len(targets))
		}

		vnLine := strings.TrimSuffix(line, "\n")
		enLine := targets[i]

		vnIDs := c.encoder.Encode(vnLine, vn, vnMax)
		enIDs := c.encoder.Encode(enLine, en, enMax)
		if !vnIDs.OK || !enIDs.OK {
			batch.AddNoise(i)
			res.Noise++
			log.Warn("Noise at line %d: vn %q (%s) | en %q (%s)", i, vnLine, reason(vnIDs), enLine, reason(enIDs))
		} else {
			batch.AddPair(vnIDs.IDs, enIDs.IDs)
			res.Encoded++
		}

		processed := res.Lines - res.Skipped
		if processed%progressEvery == 0 {
			log.Info("%s: processed %d lines (%d encoded, %d noise)", kind, processed, res.Encoded, res.Noise)
		}
		bar.SetCurrent(i + 1)

		if batch.Len() >= window {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}

	if err := flush(); err != nil {
		return res, err
	}
	bar.SetCurrent(int64(len(targets)))
	res.Cursor = st.Cursor()

	log.Info("Finished %s: %d lines read, %d skipped, %d encoded, %d noise, %d flushes",
		kind, res.Lines, res.Skipped, res.Encoded, res.Noise, res.Flushes)
	return res, nil
}

func reason(r encoder.Result) string {
	if r.OK {
		return "ok"
	}
	return r.Reason
}

// readLines reads path fully, stripping one trailing newline from each line.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.Split(text, "\n"), nil
}
