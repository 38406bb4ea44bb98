package delta

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestStringCodec_RoundTrip validates Decode(P, Encode(P, C)) == C and the
// encoded length bound on random edits of a dense screen.
func TestStringCodec_RoundTrip(t *testing.T) {
	const alphabet = "ABCDEFGH ._-é"
	rng := rand.New(rand.NewSource(1))
	letters := []rune(alphabet)

	randomText := func(n int) []rune {
		out := make([]rune, n)
		for i := range out {
			out[i] = letters[rng.Intn(len(letters))]
		}
		return out
	}

	for _, minMatch := range []int{0, 3, 4, 8} {
		codec := StringCodec{MinMatch: minMatch}
		for trial := 0; trial < 200; trial++ {
			prev := randomText(377)
			cur := append([]rune(nil), prev...)
			for edits := rng.Intn(20); edits > 0; edits-- {
				cur[rng.Intn(len(cur))] = letters[rng.Intn(len(letters))]
			}

			ins, err := codec.Encode(string(prev), string(cur))
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			got, err := codec.Decode(string(prev), ins)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if got != string(cur) {
				t.Fatalf("minMatch %d: round trip mismatch\n got %q\nwant %q", minMatch, got, string(cur))
			}

			wire, err := Format(ins)
			if err != nil {
				t.Fatalf("Format() error: %v", err)
			}
			if len(wire) > len(string(cur))+2 {
				t.Errorf("minMatch %d: wire %d bytes exceeds %d+2", minMatch, len(wire), len(string(cur)))
			}

			parsed, err := Parse(wire)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if again, _ := codec.Decode(string(prev), parsed); again != string(cur) {
				t.Fatalf("wire round trip mismatch")
			}
		}
	}
}

func TestStringCodec_Unchanged(t *testing.T) {
	codec := StringCodec{MinMatch: 4}
	ins, err := codec.Encode("HELLO\nWORLD", "HELLO\nWORLD")
	if err != nil || len(ins) != 0 {
		t.Fatalf("Encode(equal) = %v, %v; want empty", ins, err)
	}
	if wire, _ := Format(ins); wire != "" {
		t.Errorf("Format(empty) = %q", wire)
	}
}

func TestStringCodec_Fragments(t *testing.T) {
	codec := StringCodec{MinMatch: 4}

	tests := []struct {
		name string
		prev string
		cur  string
		want string
	}{
		{"first frame", "", "ABC", "0\tABC"},
		{"single change", "AAAAAAAAAA", "AAAXAAAAAA", "3\tX"},
		{"short gap absorbed", "AAAAAAAAAA", "AXAAXAAAAA", "1\tXAAX"},
		{"long gap splits", "AAAAAAAAAAAA", "XAAAAXAAAAAA", "0\tX\t4\tX"},
		{"change at end", "AAAAAA", "AAAAAZ", "5\tZ"},
		{"grow", "AB", "ABCD", "2\tCD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := codec.Encode(tt.prev, tt.cur)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			got, _ := Format(ins)
			if got != tt.want {
				t.Errorf("Format(Encode()) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringCodec_Errors(t *testing.T) {
	codec := StringCodec{MinMatch: 4}

	if _, err := codec.Encode("ABCD", "AB"); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Encode(shorter) error = %v, want ErrLengthMismatch", err)
	}
	if _, err := codec.Encode("", "A\tB"); !errors.Is(err, ErrTab) {
		t.Errorf("Encode(tab) error = %v, want ErrTab", err)
	}
	if _, err := Parse("3\tX\t4"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Parse(odd) error = %v, want ErrCorrupt", err)
	}
	if _, err := codec.Decode("AB", []Instruction{{Skip: 5, Fragment: "X"}}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Decode(past end) error = %v, want ErrCorrupt", err)
	}
}

func TestText_StreamFallsBackOnShrink(t *testing.T) {
	text := NewText(4)

	first, _ := text.Next("ABCDEFGH")
	if first != "0\tABCDEFGH" {
		t.Errorf("first = %q", first)
	}
	if same, _ := text.Next("ABCDEFGH"); same != "" {
		t.Errorf("unchanged = %q, want empty", same)
	}
	shrunk, err := text.Next("XYZ")
	if err != nil || shrunk != "0\tXYZ" {
		t.Errorf("shrunk = %q, %v", shrunk, err)
	}
}

func TestBytesCodec_RoundTripBinary(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	prev := make([]byte, Screen2bpp.PackedSize())
	rng.Read(prev)
	cur := append([]byte(nil), prev...)
	for i := 0; i < 50; i++ {
		cur[rng.Intn(len(cur))] ^= 0xFF
	}

	codec := BytesCodec{MinMatch: 4}
	spans, err := codec.Encode(prev, cur)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	wire := AppendSpans(nil, spans)
	parsed, err := ReadSpans(wire)
	if err != nil {
		t.Fatalf("ReadSpans() error: %v", err)
	}
	got, err := codec.Decode(prev, parsed)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(got, cur) {
		t.Error("bytes round trip mismatch")
	}
	t.Logf("%d spans, %d wire bytes for %d changes", len(spans), len(wire), 50)

	if _, err := ReadSpans([]byte{0x01, 0x05, 0xAA}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadSpans(truncated) error = %v, want ErrCorrupt", err)
	}
}

func TestPack2bpp_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	in := make([]uint8, 160*144)
	for i := range in {
		in[i] = uint8(rng.Intn(4))
	}

	packed := make([]byte, 5760)
	if err := Pack2bpp(in, packed); err != nil {
		t.Fatalf("Pack2bpp() error: %v", err)
	}
	out := make([]uint8, len(in))
	if err := Unpack2bpp(packed, out); err != nil {
		t.Fatalf("Unpack2bpp() error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("2bpp round trip mismatch")
	}
}

// TestPack2bpp_Layout pins the byte layout: the first two bytes hold row 0
// of tile (0,0), first pixel in the low bits.
func TestPack2bpp_Layout(t *testing.T) {
	in := make([]uint8, 160*144)
	copy(in, []uint8{1, 2, 3, 0, 3, 3, 3, 3})
	in[8] = 2 // first pixel of tile (1,0)

	packed := make([]byte, 5760)
	Pack2bpp(in, packed)

	if packed[0] != 0b00111001 || packed[1] != 0xFF {
		t.Errorf("tile (0,0) row 0 = %08b %08b", packed[0], packed[1])
	}
	if packed[16] != 2 {
		t.Errorf("tile (1,0) row 0 = %08b, want 00000010", packed[16])
	}
}

func TestFrameLog_WriteReadResync(t *testing.T) {
	const size = 16
	var buf bytes.Buffer
	buf.WriteString("garbage+f") // partial magic before the first record

	log := NewFrameLog(&buf)
	for i := 0; i < 3; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, size)
		if err := log.Append(Record{Seconds: uint32(100 + i), Seq: uint8(i), Payload: payload}); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	buf.Write(Magic[:2]) // torn trailing write

	r := NewFrameLogReader(&buf, size)
	for i := 0; i < 3; i++ {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d error: %v", i, err)
		}
		if rec.Seconds != uint32(100+i) || rec.Seq != uint8(i) || rec.Payload[0] != byte(i) {
			t.Errorf("record %d = %+v", i, rec)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Next() at torn end error = %v, want ErrUnexpectedEOF", err)
	}
	if r.Skipped() != int64(len("garbage+f")) {
		t.Errorf("Skipped() = %d, want %d", r.Skipped(), len("garbage+f"))
	}
	if log.Records() != 3 || log.Written() != 3*(HeaderSize+size) {
		t.Errorf("Records() = %d, Written() = %d", log.Records(), log.Written())
	}
}

func TestCreateFrameLog_StrftimeGzip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	log, path, err := CreateFrameLog(filepath.Join(dir, "logs", "frames-%Y%m%d-%H%M%S.bin.gz"), now)
	if err != nil {
		t.Fatalf("CreateFrameLog() error: %v", err)
	}
	if !strings.HasSuffix(path, "frames-20240309-140506.bin.gz") {
		t.Errorf("path = %s", path)
	}

	payload := make([]byte, 5760)
	payload[10] = 0x2B
	if err := log.Append(Record{Seconds: 42, Seq: 7, Payload: payload}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	r, err := OpenFrameLogFile(path, 5760)
	if err != nil {
		t.Fatalf("OpenFrameLogFile() error: %v", err)
	}
	defer r.Close()

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if rec.Seconds != 42 || rec.Seq != 7 || !bytes.Equal(rec.Payload, payload) {
		t.Errorf("record = {%d %d ...}", rec.Seconds, rec.Seq)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end error = %v, want io.EOF", err)
	}
}
