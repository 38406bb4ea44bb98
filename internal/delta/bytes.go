package delta

import (
	"encoding/binary"
	"fmt"
)

// BytesCodec encodes byte buffers of constant size (packed frames) as spans.
type BytesCodec struct {
	MinMatch int
}

// Encode returns the spans turning prev into cur.
func (c BytesCodec) Encode(prev, cur []byte) ([]Span[byte], error) {
	return Diff(prev, cur, c.MinMatch)
}

// Decode applies spans to prev.
func (c BytesCodec) Decode(prev []byte, spans []Span[byte]) ([]byte, error) {
	return Apply(prev, spans)
}

// AppendSpans appends the binary form of spans to dst: per span a uvarint
// skip, a uvarint fragment length, then the fragment.
func AppendSpans(dst []byte, spans []Span[byte]) []byte {
	for _, s := range spans {
		dst = binary.AppendUvarint(dst, uint64(s.Skip))
		dst = binary.AppendUvarint(dst, uint64(len(s.Fragment)))
		dst = append(dst, s.Fragment...)
	}
	return dst
}

// ReadSpans parses the output of AppendSpans. Fragments alias buf.
func ReadSpans(buf []byte) ([]Span[byte], error) {
	var spans []Span[byte]
	for len(buf) > 0 {
		skip, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad skip varint", ErrCorrupt)
		}
		buf = buf[n:]

		length, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf)-n) < length {
			return nil, fmt.Errorf("%w: bad fragment length", ErrCorrupt)
		}
		buf = buf[n:]

		spans = append(spans, Span[byte]{Skip: int(skip), Fragment: buf[:length]})
		buf = buf[length:]
	}
	return spans, nil
}
