package converter

import "corpusidx/pkg/encoder"

// Batch accumulates encoded rows and noise line numbers between flushes.
type Batch struct {
	rows  [][]int32
	noise []int64
}

func NewBatch(window int) *Batch {
	return &Batch{rows: make([][]int32, 0, window)}
}

// AddPair stores src followed by tgt as one row.
func (b *Batch) AddPair(src, tgt []int32) {
	b.rows = append(b.rows, encoder.Concat(src, tgt))
}

// AddNoise records the original line number of a pair that failed to encode.
func (b *Batch) AddNoise(line int64) {
	b.noise = append(b.noise, line)
}

// Len is the number of pending rows; noise does not count toward the window.
func (b *Batch) Len() int { return len(b.rows) }

func (b *Batch) NoiseLen() int { return len(b.noise) }

func (b *Batch) Empty() bool { return len(b.rows) == 0 && len(b.noise) == 0 }

// Drain hands over the pending rows and noise and resets the batch.
func (b *Batch) Drain() ([][]int32, []int64) {
	rows, noise := b.rows, b.noise
	b.rows = make([][]int32, 0, cap(rows))
	b.noise = nil
	return rows, noise
}
