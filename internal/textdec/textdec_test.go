package textdec

import (
	"math/rand/v2"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FirstSuccessfulCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		encoding   string
		candidates Chain
	}{
		{name: "utf-8 passthrough", text: "dir/naïve.txt", encoding: UTF8, candidates: ZipChain},
		{name: "cp437 zip legacy", text: "café/menu.txt", encoding: "cp437", candidates: Chain{UTF8, "cp437"}},
		{name: "cp1252", text: "façade€.txt", encoding: "cp1252", candidates: Chain{UTF8, "cp1252"}},
		{name: "latin-1", text: "größe.bin", encoding: "latin-1", candidates: TarChain},
		{name: "shift_jis", text: "日本語.txt", encoding: "shift_jis", candidates: Chain{UTF8, "shift_jis"}},
		{name: "koi8-r", text: "файл.txt", encoding: "koi8-r", candidates: Chain{UTF8, "koi8-r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := Encode(tt.text, tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.text, tt.candidates.Decode(raw))
		})
	}
}

func TestDecode_OrderMatters(t *testing.T) {
	t.Parallel()

	raw, err := Encode("é", "cp1252")
	require.NoError(t, err)

	// cp437 accepts every byte, so it wins when listed first.
	assert.Equal(t, "Θ", Decode(raw, "cp437", "cp1252"))
	assert.Equal(t, "é", Decode(raw, "cp1252", "cp437"))
}

func TestDecode_LossyFallback(t *testing.T) {
	t.Parallel()

	raw := []byte{'a', 0xff, 'b'}
	assert.Equal(t, "a�b", Decode(raw, UTF8))
	assert.Equal(t, "a�b", Decode(raw))
	assert.Equal(t, "aÿb", Decode(raw, UTF8, "latin-1"))
}

func TestDecode_NeverFails(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	chains := []Chain{nil, ZipChain, TarChain, {UTF8}, {"shift_jis"}, {"gbk", "big5"}, {"bogus"}}
	for range 500 {
		raw := make([]byte, rng.IntN(64))
		for i := range raw {
			raw[i] = byte(rng.UintN(256))
		}
		for _, chain := range chains {
			out := chain.Decode(raw)
			assert.True(t, utf8.ValidString(out))
		}
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	for alias, want := range map[string]string{
		"UTF8":         UTF8,
		"Windows-1252": "cp1252",
		"iso-8859-1":   "latin-1",
		" cp437 ":      "cp437",
	} {
		got, ok := Canonical(alias)
		assert.True(t, ok, alias)
		assert.Equal(t, want, got, alias)
	}

	_, ok := Canonical("ebcdic")
	assert.False(t, ok)
}

func TestChainValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ZipChain.Validate())
	require.Error(t, Chain{UTF8, "nope"}.Validate())
	assert.Contains(t, Names(), "cp437")
	assert.Contains(t, Names(), UTF8)
}
