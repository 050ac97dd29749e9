package converter

import "errors"

var (
	// ErrUnknownDatasetKind is returned before any I/O for a kind outside train/val/test.
	ErrUnknownDatasetKind = errors.New("unknown dataset kind")
	// ErrCorpusMisaligned is returned when the source file has more lines than the target file.
	ErrCorpusMisaligned = errors.New("source and target corpora are misaligned")
)
