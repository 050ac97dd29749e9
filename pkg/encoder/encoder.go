// Package encoder turns sentences into fixed-width index vectors.
package encoder

import (
	"fmt"
	"strings"
	"unicode"

	"corpusidx/pkg/vocab"
)

// Result is either a fixed-width vector (OK) or an encode failure with a reason.
type Result struct {
	IDs    []int32
	OK     bool
	Reason string
}

func Success(ids []int32) Result {
	return Result{IDs: ids, OK: true}
}

func Failure(format string, args ...interface{}) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// SentenceEncoder maps one line to exactly maxLen ids or a failure.
type SentenceEncoder interface {
	Encode(line string, v *vocab.Vocabulary, maxLen int) Result
}

// Concat joins the source and target vectors into one row.
func Concat(src, tgt []int32) []int32 {
	row := make([]int32, 0, len(src)+len(tgt))
	row = append(row, src...)
	return append(row, tgt...)
}

// fit truncates or pads ids to exactly maxLen. A truncated sentence keeps
// eos as its last id when eos >= 0.
func fit(ids []int32, padID, eos int32, maxLen int) Result {
	if len(ids) == 0 {
		return Failure("empty sentence")
	}
	if maxLen <= 0 {
		return Failure("max length %d", maxLen)
	}
	if len(ids) > maxLen {
		out := append([]int32(nil), ids[:maxLen]...)
		if eos >= 0 {
			out[maxLen-1] = eos
		}
		return Success(out)
	}
	out := make([]int32, maxLen)
	copy(out, ids)
	for i := len(ids); i < maxLen; i++ {
		out[i] = padID
	}
	return Success(out)
}

// Vocab is a word-level encoder: lowercases, splits on whitespace and
// punctuation, wraps the sentence in BOS/EOS when the vocabulary has them.
// Out-of-vocabulary words map to <unk>, or fail the line if there is none.
type Vocab struct{}

func (Vocab) Encode(line string, v *vocab.Vocabulary, maxLen int) Result {
	words := Tokenize(line)
	if len(words) == 0 {
		return Failure("empty sentence")
	}

	ids := make([]int32, 0, len(words)+2)
	if v.BOS >= 0 {
		ids = append(ids, v.BOS)
	}
	for _, w := range words {
		id, ok := v.ID(w)
		if !ok {
			if v.Unk < 0 {
				return Failure("unknown token %q", w)
			}
			id = v.Unk
		}
		ids = append(ids, id)
	}
	if v.EOS >= 0 {
		ids = append(ids, v.EOS)
	}
	return fit(ids, v.Pad, v.EOS, maxLen)
}

// Tokenize lowercases s and splits it into words, with every punctuation
// rune as its own token.
func Tokenize(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
