package delta

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTab is returned when text to encode contains the wire separator.
var ErrTab = errors.New("delta: input contains a tab")

// Instruction is one text replacement: skip Skip runes after the previous
// fragment, then write Fragment.
type Instruction struct {
	Skip     int
	Fragment string
}

// StringCodec encodes constant-length strings (the dense screen text) as
// fragments against the previous string. Positions count runes.
type StringCodec struct {
	MinMatch int
}

// Encode returns the instructions turning prev into cur. Empty when the two
// are equal.
func (c StringCodec) Encode(prev, cur string) ([]Instruction, error) {
	if strings.ContainsRune(cur, '\t') {
		return nil, ErrTab
	}
	if prev == cur {
		return nil, nil
	}

	curRunes := []rune(cur)
	spans, err := Diff([]rune(prev), curRunes, c.MinMatch)
	if err != nil {
		return nil, err
	}

	out := make([]Instruction, len(spans))
	for i, s := range spans {
		out[i] = Instruction{Skip: s.Skip, Fragment: string(s.Fragment)}
	}
	return out, nil
}

// Decode applies instructions to prev.
func (c StringCodec) Decode(prev string, ins []Instruction) (string, error) {
	if len(ins) == 0 {
		return prev, nil
	}
	spans := make([]Span[rune], len(ins))
	for i, in := range ins {
		spans[i] = Span[rune]{Skip: in.Skip, Fragment: []rune(in.Fragment)}
	}
	out, err := Apply([]rune(prev), spans)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Format renders instructions in the tab-separated wire format
//
//	skip\tfragment\tskip\tfragment...
//
// The empty string means unchanged.
func Format(ins []Instruction) (string, error) {
	var b strings.Builder
	for i, in := range ins {
		if strings.ContainsRune(in.Fragment, '\t') {
			return "", ErrTab
		}
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(strconv.Itoa(in.Skip))
		b.WriteByte('\t')
		b.WriteString(in.Fragment)
	}
	return b.String(), nil
}

// Parse is the inverse of Format.
func Parse(s string) ([]Instruction, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, "\t")
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: odd field count %d", ErrCorrupt, len(fields))
	}

	out := make([]Instruction, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		skip, err := strconv.Atoi(fields[i])
		if err != nil || skip < 0 {
			return nil, fmt.Errorf("%w: bad skip %q", ErrCorrupt, fields[i])
		}
		out = append(out, Instruction{Skip: skip, Fragment: fields[i+1]})
	}
	return out, nil
}

// Text is the stateful form used on a stream of strings: it remembers the
// last string and renders each new one as its wire-format delta.
type Text struct {
	codec StringCodec
	last  string
}

// NewText creates a stream encoder. The first string is encoded against the
// empty string.
func NewText(minMatch int) *Text {
	return &Text{codec: StringCodec{MinMatch: minMatch}}
}

// Next returns the wire delta of cur against the previous string.
// When cur is shorter than the previous string (the grid size changed) it is
// encoded in full.
func (t *Text) Next(cur string) (string, error) {
	ins, err := t.codec.Encode(t.last, cur)
	if errors.Is(err, ErrLengthMismatch) {
		ins, err = t.codec.Encode("", cur)
	}
	if err != nil {
		return "", err
	}
	out, err := Format(ins)
	if err != nil {
		return "", err
	}
	t.last = cur
	return out, nil
}

// Last returns the previous string.
func (t *Text) Last() string { return t.last }
