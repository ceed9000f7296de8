package seriallink

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// DefaultTagPrefix is the marker readers put in front of the tag value.
const DefaultTagPrefix = "TAG:"

// ErrGarbledLine is returned for lines that are not valid text in the
// reader's encoding. Such lines are line noise and carry no tag.
var ErrGarbledLine = errors.New("garbled reader line")

// Decoder turns one raw reader line, terminator removed, into a tag ID. An
// empty result with a nil error means the line carried no tag.
type Decoder interface {
	Decode(line []byte) (string, error)
}

// UTF16Decoder handles readers that emit UTF-16 text. Little endian is
// assumed unless the line starts with a byte order mark.
type UTF16Decoder struct {
	Prefix string
}

func (d UTF16Decoder) Decode(line []byte) (string, error) {
	// Framing splits on the 0x0A byte, so in little endian the 0x00 that
	// completes the previous "\n" shows up at the front of this line.
	if len(line)%2 == 1 && line[0] == 0x00 {
		line = line[1:]
	}
	if len(line)%2 == 1 {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return "", nil
	}

	dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	out, err := dec.Bytes(line)
	if err != nil {
		return "", err
	}
	// The decoder substitutes U+FFFD for unpaired surrogates instead of
	// failing.
	if strings.ContainsRune(string(out), utf8.RuneError) {
		return "", ErrGarbledLine
	}
	return extractTag(string(out), d.Prefix), nil
}

// TextDecoder handles readers that emit ASCII or UTF-8 lines.
type TextDecoder struct {
	Prefix string
}

func (d TextDecoder) Decode(line []byte) (string, error) {
	if !utf8.Valid(line) {
		return "", ErrGarbledLine
	}
	return extractTag(string(line), d.Prefix), nil
}

func extractTag(s, prefix string) string {
	s = strings.Trim(s, "\x00\ufeff \t\r\n")
	if prefix != "" {
		s = strings.ReplaceAll(s, prefix, "")
	}
	return strings.TrimSpace(s)
}

// DecoderFor maps a configured encoding name to a Decoder. Unknown names
// fall back to UTF-16.
func DecoderFor(encoding, prefix string) Decoder {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "text", "ascii", "utf-8", "utf8":
		return TextDecoder{Prefix: prefix}
	default:
		return UTF16Decoder{Prefix: prefix}
	}
}
