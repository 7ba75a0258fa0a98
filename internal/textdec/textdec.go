// Package textdec decodes raw archive filenames through an ordered chain of
// candidate encodings.
package textdec

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// UTF8 is the canonical name of the UTF-8 candidate.
const UTF8 = "utf-8"

var encodings = map[string]encoding.Encoding{
	"cp437":       charmap.CodePage437,
	"cp850":       charmap.CodePage850,
	"cp866":       charmap.CodePage866,
	"cp1250":      charmap.Windows1250,
	"cp1251":      charmap.Windows1251,
	"cp1252":      charmap.Windows1252,
	"latin-1":     charmap.ISO8859_1,
	"iso-8859-15": charmap.ISO8859_15,
	"koi8-r":      charmap.KOI8R,
	"shift_jis":   japanese.ShiftJIS,
	"euc-jp":      japanese.EUCJP,
	"gbk":         simplifiedchinese.GBK,
	"big5":        traditionalchinese.Big5,
	"euc-kr":      korean.EUCKR,
}

var aliases = map[string]string{
	"utf8":         UTF8,
	"ibm437":       "cp437",
	"ibm850":       "cp850",
	"ibm866":       "cp866",
	"windows-1250": "cp1250",
	"windows-1251": "cp1251",
	"windows-1252": "cp1252",
	"latin1":       "latin-1",
	"iso-8859-1":   "latin-1",
	"iso8859-1":    "latin-1",
	"sjis":         "shift_jis",
	"cp932":        "shift_jis",
	"cp936":        "gbk",
}

// Chain is an ordered list of candidate encoding names.
type Chain []string

// Default chains per container family.
var (
	ZipChain = Chain{UTF8, "cp437", "cp1252", "latin-1"}
	TarChain = Chain{UTF8, "latin-1"}
)

// Canonical returns the canonical spelling of an encoding name.
func Canonical(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if name == UTF8 {
		return name, true
	}
	_, ok := encodings[name]
	return name, ok
}

// Names returns every supported canonical name, sorted.
func Names() []string {
	names := append(lo.Keys(encodings), UTF8)
	slices.Sort(names)
	return names
}

// Validate returns an error naming the first unknown encoding in the chain.
func (c Chain) Validate() error {
	for _, name := range c {
		if _, ok := Canonical(name); !ok {
			return fmt.Errorf("unknown encoding %q", name)
		}
	}
	return nil
}

// Decode returns raw decoded by the first candidate that accepts it. If no
// candidate does, the last candidate decodes it lossily. Decode never fails;
// an empty chain behaves like UTF-8 alone.
func (c Chain) Decode(raw []byte) string {
	if len(c) == 0 {
		return lossyUTF8(raw)
	}
	for _, name := range c {
		if s, ok := decode(raw, name); ok {
			return s
		}
	}
	return lossy(raw, c[len(c)-1])
}

// Decode is shorthand for Chain(candidates).Decode(raw).
func Decode(raw []byte, candidates ...string) string {
	return Chain(candidates).Decode(raw)
}

// Encode converts s to the named encoding. It is used to produce names in a
// legacy encoding and fails when s has runes the encoding cannot represent.
func Encode(s, name string) ([]byte, error) {
	canon, ok := Canonical(name)
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	if canon == UTF8 {
		return []byte(s), nil
	}
	return encodings[canon].NewEncoder().Bytes([]byte(s))
}

func decode(raw []byte, name string) (string, bool) {
	canon, ok := Canonical(name)
	if !ok {
		return "", false
	}
	if canon == UTF8 {
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}
	out, err := encodings[canon].NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	// Decoders substitute U+FFFD for bytes they cannot map.
	if strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func lossy(raw []byte, name string) string {
	canon, ok := Canonical(name)
	if !ok || canon == UTF8 {
		return lossyUTF8(raw)
	}
	out, err := encodings[canon].NewDecoder().Bytes(raw)
	if err != nil {
		return lossyUTF8(raw)
	}
	return lossyUTF8(out)
}

func lossyUTF8(raw []byte) string {
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
