package serialframe

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Format selects how field values are laid out between delimiters.
type Format int

const (
	// FormatBinary is one raw byte per field (Arduino Serial.write).
	FormatBinary Format = iota
	// FormatASCII is decimal values separated by commas (Arduino Serial.print).
	FormatASCII
)

// maxFrameLen bounds the partial buffer so line noise without delimiters
// cannot grow it forever.
const maxFrameLen = 64

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "binary":
		return FormatBinary, nil
	case "ascii":
		return FormatASCII, nil
	default:
		return 0, fmt.Errorf("unknown frame format %q", s)
	}
}

func (f Format) String() string {
	if f == FormatASCII {
		return "ascii"
	}
	return "binary"
}

// Frame is the outcome of one delimited unit: either a Reading or the error
// that caused it to be discarded.
type Frame struct {
	Reading Reading
	Err     error
}

// Decoder turns a byte stream into frames. It keeps only the partial frame
// between calls to Feed and is not safe for concurrent use.
type Decoder struct {
	delimiter byte
	format    Format

	synced bool // a delimiter has been seen, buf holds a real frame start
	buf    []byte
}

func NewDecoder(delimiter byte, format Format) *Decoder {
	return &Decoder{
		delimiter: delimiter,
		format:    format,
		buf:       make([]byte, 0, maxFrameLen),
	}
}

// Feed consumes p and returns the frames it completed, in stream order.
// Bytes before the first delimiter belong to a frame whose start was never
// seen and are dropped.
func (d *Decoder) Feed(p []byte) []Frame {
	var frames []Frame
	for len(p) > 0 {
		i := bytes.IndexByte(p, d.delimiter)
		if i < 0 {
			if d.synced {
				d.buf = append(d.buf, p...)
				if len(d.buf) > maxFrameLen {
					frames = append(frames, Frame{Err: malformed(len(d.buf), "no delimiter within frame bound")})
					d.buf = d.buf[:0]
					d.synced = false
				}
			}
			return frames
		}

		if d.synced {
			d.buf = append(d.buf, p[:i]...)
			r, err := d.parse(d.buf)
			frames = append(frames, Frame{Reading: r, Err: err})
		}
		d.buf = d.buf[:0]
		d.synced = true
		p = p[i+1:]
	}
	return frames
}

// Reset drops any partial frame and waits for the next delimiter.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.synced = false
}

func (d *Decoder) parse(raw []byte) (Reading, error) {
	if d.format == FormatASCII {
		return parseASCII(raw)
	}
	return parseBinary(raw)
}

func parseBinary(raw []byte) (Reading, error) {
	if len(raw) != NumFields {
		return Reading{}, malformed(len(raw), "")
	}
	var r Reading
	for i, b := range raw {
		v := int(b)
		if v != Low && v != High {
			return Reading{}, outOfRange(Field(i), v)
		}
		r[i] = v
	}
	return r, nil
}

func parseASCII(raw []byte) (Reading, error) {
	text := strings.Map(func(c rune) rune {
		switch c {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return c
	}, string(raw))
	// Sketches that print "v," in a loop leave one trailing separator.
	text = strings.TrimSuffix(text, ",")

	if text == "" {
		return Reading{}, malformed(0, "")
	}
	tokens := strings.Split(text, ",")
	if len(tokens) != NumFields {
		return Reading{}, malformed(len(tokens), "")
	}

	var r Reading
	for i, tok := range tokens {
		switch tok {
		case "0":
			r[i] = Low
		case "1":
			r[i] = High
		default:
			// Numeric but not a canonical 0 or 1, e.g. "2", "+1" or "01".
			v, err := strconv.Atoi(tok)
			if err != nil {
				return Reading{}, malformed(i, fmt.Sprintf("field %s is not a number: %q", Field(i), tok))
			}
			return Reading{}, outOfRangeToken(Field(i), v, tok)
		}
	}
	return r, nil
}

// Encode lays out r's fields in the given format, without delimiters.
func Encode(r Reading, format Format) []byte {
	if format == FormatASCII {
		parts := make([]string, NumFields)
		for i, v := range r {
			parts[i] = strconv.Itoa(v)
		}
		return []byte(strings.Join(parts, ","))
	}
	out := make([]byte, NumFields)
	for i, v := range r {
		out[i] = byte(v)
	}
	return out
}

// EncodeFrame is Encode followed by the delimiter, which is what a device
// sends per snapshot once the stream is running.
func EncodeFrame(r Reading, format Format, delimiter byte) []byte {
	return append(Encode(r, format), delimiter)
}
