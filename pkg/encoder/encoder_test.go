package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusidx/internal/config"
	"corpusidx/pkg/vocab"
)

func testVocab(t *testing.T, withUnk bool) *vocab.Vocabulary {
	t.Helper()
	m := map[string]int32{"<pad>": 0, "<sos>": 1, "<eos>": 2, "hello": 3, "world": 4, "!": 5}
	if withUnk {
		m["<unk>"] = 6
	}
	v, err := vocab.New(m)
	require.NoError(t, err)
	return v
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello World!", []string{"hello", "world", "!"}},
		{"  spaced\tout  ", []string{"spaced", "out"}},
		{"Xin chào, bạn.", []string{"xin", "chào", ",", "bạn", "."}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestVocabEncodePadsToMaxLen(t *testing.T) {
	v := testVocab(t, false)
	res := Vocab{}.Encode("Hello world!", v, 8)

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []int32{1, 3, 4, 5, 2, 0, 0, 0}, res.IDs)
}

func TestVocabEncodeFailures(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		maxLen int
		unk    bool
		reason string
	}{
		{"empty", "", 8, false, "empty"},
		{"whitespace only", "   ", 8, false, "empty"},
		{"unknown without unk", "hello mars", 8, false, "unknown token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Vocab{}.Encode(tt.line, testVocab(t, tt.unk), tt.maxLen)
			assert.False(t, res.OK)
			assert.Nil(t, res.IDs)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestVocabEncodeTruncatesKeepingEOS(t *testing.T) {
	res := Vocab{}.Encode("hello world hello world", testVocab(t, false), 4)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []int32{1, 3, 4, 2}, res.IDs)

	res = Vocab{}.Encode("hello world", testVocab(t, false), 4)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []int32{1, 3, 4, 2}, res.IDs)
}

func TestVocabEncodeUnknownWithUnk(t *testing.T) {
	res := Vocab{}.Encode("hello mars", testVocab(t, true), 6)
	require.True(t, res.OK)
	assert.Equal(t, []int32{1, 3, 6, 2, 0, 0}, res.IDs)
}

func TestExactFit(t *testing.T) {
	res := Vocab{}.Encode("hello world", testVocab(t, false), 4)
	require.True(t, res.OK)
	assert.Len(t, res.IDs, 4)
}

func TestConcat(t *testing.T) {
	row := Concat([]int32{1, 2}, []int32{3, 4, 5})
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, row)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	enc, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, Vocab{}, enc)

	cfg.Preprocessing.Encoder = "morfessor"
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestTiktokenEncode(t *testing.T) {
	tk, err := NewTiktoken("cl100k_base")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	res := tk.Encode("Hello World", nil, 6)
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.IDs, 6)
	assert.NotZero(t, res.IDs[0])
	assert.NotZero(t, res.IDs[1])
	assert.Equal(t, []int32{0, 0, 0, 0}, res.IDs[2:])

	res = tk.Encode("This is a test", nil, 2)
	require.True(t, res.OK, res.Reason)
	full := tk.Encode("This is a test", nil, 8)
	require.True(t, full.OK, full.Reason)
	assert.Equal(t, full.IDs[:2], res.IDs)
}
