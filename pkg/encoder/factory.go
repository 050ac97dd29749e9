package encoder

import (
	"fmt"

	"corpusidx/internal/config"
)

// FromConfig returns the encoder named by preprocessing.encoder.
func FromConfig(cfg *config.Config) (SentenceEncoder, error) {
	switch cfg.Preprocessing.Encoder {
	case "", "vocab":
		return Vocab{}, nil
	case "tiktoken":
		return NewTiktoken(cfg.Preprocessing.TiktokenEncoding)
	default:
		return nil, fmt.Errorf("%w: unknown encoder %q", config.ErrInvalid, cfg.Preprocessing.Encoder)
	}
}
