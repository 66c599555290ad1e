package stream

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeMode selects how a Decoder treats malformed UTF-8.
type DecodeMode string

const (
	// DecodeStrict fails on the first malformed byte sequence.
	DecodeStrict DecodeMode = "strict"
	// DecodeReplace substitutes U+FFFD for malformed byte sequences, the way browsers decode
	// response bodies.
	DecodeReplace DecodeMode = "replace"
)

// ErrInvalidUTF8 is returned by a strict Decoder when the stream holds malformed UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 in response stream")

// Decoder incrementally decodes UTF-8 text delivered in arbitrary chunks. A multi-byte character
// split across two chunks is kept pending until the rest of it arrives, so the concatenation of
// every Decode result equals the decoding of the concatenated chunks.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	t transform.Transformer

	pending []byte
	dst     []byte
	offset  int
}

// ParseDecodeMode returns the DecodeMode named by s. An empty string selects DecodeStrict.
func ParseDecodeMode(s string) (DecodeMode, error) {
	switch DecodeMode(s) {
	case "", DecodeStrict:
		return DecodeStrict, nil
	case DecodeReplace:
		return DecodeReplace, nil
	default:
		return "", fmt.Errorf("unknown decode mode: %s", s)
	}
}

// NewDecoder returns a Decoder in the given mode. Unknown modes fall back to DecodeStrict.
func NewDecoder(mode DecodeMode) *Decoder {
	var t transform.Transformer = encoding.UTF8Validator
	if mode == DecodeReplace {
		t = unicode.UTF8.NewDecoder()
	}
	return &Decoder{t: t}
}

// Decode decodes p, prefixed by whatever incomplete sequence the previous call left pending. When
// atEOF is true the stream is over: a pending incomplete sequence is malformed and is reported (strict)
// or replaced (replace). The text decoded before a failure is returned along with the error.
func (d *Decoder) Decode(p []byte, atEOF bool) (string, error) {
	src := append(d.pending, p...)
	d.pending = nil

	var sb strings.Builder
	for {
		// Replacing a single malformed byte with U+FFFD triples its size.
		if need := 3*len(src) + utf8.UTFMax; len(d.dst) < need {
			d.dst = make([]byte, need)
		}

		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		sb.Write(d.dst[:nDst])
		src = src[nSrc:]
		d.offset += nSrc

		switch {
		case err == nil:
			return sb.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			d.dst = make([]byte, 2*len(d.dst))
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			d.pending = append([]byte(nil), src...)
			return sb.String(), nil
		case errors.Is(err, encoding.ErrInvalidUTF8), errors.Is(err, transform.ErrShortSrc):
			return sb.String(), fmt.Errorf("%w at byte %d", ErrInvalidUTF8, d.offset)
		default:
			return sb.String(), fmt.Errorf("error decoding at byte %d: %w", d.offset, err)
		}
	}
}

// Pending returns the number of bytes of an incomplete character held for the next call.
func (d *Decoder) Pending() int {
	return len(d.pending)
}
