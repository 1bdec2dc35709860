package assistant

import (
	"strings"
	"unicode/utf8"
)

// TextDecoder converts raw byte chunks into text incrementally. A trailing
// partial multi-byte sequence is retained until the next chunk so that runes
// split across chunk boundaries decode correctly. It never fails: invalid
// interior bytes pass through unchanged, and Flush replaces a truly
// incomplete trailing sequence with the replacement character.
type TextDecoder struct {
	pending []byte
}

// Decode appends chunk to the pending bytes and returns the maximal prefix
// that forms complete UTF-8 sequences.
func (d *TextDecoder) Decode(chunk []byte) string {
	d.pending = append(d.pending, chunk...)

	valid := 0
	for i := 0; i < len(d.pending); {
		r, size := utf8.DecodeRune(d.pending[i:])
		if r == utf8.RuneError && size == 1 {
			if len(d.pending)-i < utf8.UTFMax && !utf8.FullRune(d.pending[i:]) {
				// Might be the start of a rune whose tail is still in flight.
				break
			}
			// Definitely invalid, pass the byte through as-is.
			i++
			valid = i
			continue
		}
		i += size
		valid = i
	}

	if valid == 0 {
		return ""
	}
	out := string(d.pending[:valid])
	d.pending = d.pending[valid:]
	return out
}

// Flush returns any retained bytes. An incomplete trailing sequence is
// replaced rather than dropped, so the stream's byte count is accounted for.
func (d *TextDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	out := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	return out
}
