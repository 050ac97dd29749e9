package vocab

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"corpusidx/internal/config"
)

// ErrNoPadToken is returned for vocabularies that cannot pad fixed-width rows.
var ErrNoPadToken = errors.New("vocabulary has no padding token")

// Vocabulary maps tokens to integer ids. Special ids are -1 when absent,
// except Pad which is required.
type Vocabulary struct {
	token2id map[string]int32
	id2token map[int32]string

	Pad int32
	BOS int32
	EOS int32
	Unk int32
}

var (
	padNames = []string{"<pad>"}
	bosNames = []string{"<sos>", "<bos>", "<s>"}
	eosNames = []string{"<eos>", "</s>"}
	unkNames = []string{"<unk>"}
)

// New builds a vocabulary from a token to id mapping.
func New(token2id map[string]int32) (*Vocabulary, error) {
	id2token := make(map[int32]string, len(token2id))
	for tok, id := range token2id {
		if id < 0 {
			return nil, fmt.Errorf("token %q has negative id %d", tok, id)
		}
		if other, dup := id2token[id]; dup {
			return nil, fmt.Errorf("tokens %q and %q share id %d", other, tok, id)
		}
		id2token[id] = tok
	}

	v := &Vocabulary{token2id: token2id, id2token: id2token}
	v.Pad = v.special(padNames)
	v.BOS = v.special(bosNames)
	v.EOS = v.special(eosNames)
	v.Unk = v.special(unkNames)
	if v.Pad < 0 {
		return nil, ErrNoPadToken
	}
	return v, nil
}

func (v *Vocabulary) special(names []string) int32 {
	for _, n := range names {
		if id, ok := v.token2id[n]; ok {
			return id
		}
	}
	return -1
}

// ID looks up tok.
func (v *Vocabulary) ID(tok string) (int32, bool) {
	id, ok := v.token2id[tok]
	return id, ok
}

// Token returns the token for id, or "" when no token has it.
func (v *Vocabulary) Token(id int32) string {
	return v.id2token[id]
}

// Size is the number of distinct tokens.
func (v *Vocabulary) Size() int {
	return len(v.token2id)
}

// LoadFile reads a vocabulary. Files ending in .json hold a {"token": id}
// object; anything else is one token per line, id = line number.
func LoadFile(path string) (*Vocabulary, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadJSON(path)
	}
	return loadLines(path)
}

func loadJSON(path string) (*Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]int32{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse vocab %s: %w", path, err)
	}
	return New(raw)
}

func loadLines(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := map[string]int32{}
	scanner := bufio.NewScanner(f)
	var id int32
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if tok == "" {
			continue
		}
		if _, dup := raw[tok]; dup {
			return nil, fmt.Errorf("vocab %s: duplicate token %q", path, tok)
		}
		raw[tok] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	return New(raw)
}

// Load returns the source (vn) and target (en) vocabularies named in cfg.
// The tiktoken encoder needs a vocabulary only for its pad id, so with it an
// unset path yields a nil vocabulary instead of an error.
func Load(cfg *config.Config) (*Vocabulary, *Vocabulary, error) {
	vnPath := cfg.Resolve(cfg.Preprocessing.VnVocab)
	enPath := cfg.Resolve(cfg.Preprocessing.EnVocab)
	optional := cfg.Preprocessing.Encoder == "tiktoken"
	if !optional && (vnPath == "" || enPath == "") {
		return nil, nil, fmt.Errorf("%w: preprocessing.vn_vocab and preprocessing.en_vocab are required", config.ErrInvalid)
	}

	vn, err := loadIfSet(vnPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load vn vocab: %w", err)
	}
	en, err := loadIfSet(enPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load en vocab: %w", err)
	}
	return vn, en, nil
}

func loadIfSet(path string) (*Vocabulary, error) {
	if path == "" {
		return nil, nil
	}
	return LoadFile(path)
}
