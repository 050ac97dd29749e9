package encoder

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"corpusidx/pkg/vocab"
)

// Tiktoken encodes with a BPE encoding; the vocabulary only supplies the
// pad id (0 when nil).
type Tiktoken struct {
	model *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, e.g. "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	tkm, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	return &Tiktoken{model: tkm}, nil
}

func (t *Tiktoken) Encode(line string, v *vocab.Vocabulary, maxLen int) Result {
	tokens := t.model.Encode(line, nil, nil)
	ids := make([]int32, len(tokens))
	for i, tok := range tokens {
		ids[i] = int32(tok)
	}
	var padID int32
	if v != nil {
		padID = v.Pad
	}
	return fit(ids, padID, -1, maxLen)
}
