package delta

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-strftime"
)

// Magic starts every frame log record ("+f\xc9q").
var Magic = [4]byte{0x2B, 0x66, 0xC9, 0x71}

// HeaderSize is the record header length: magic, LE uint32 elapsed seconds,
// one sequence byte.
const HeaderSize = 9

// Record is one frame log entry.
type Record struct {
	Seconds uint32 // elapsed in-game seconds
	Seq     uint8  // frame counter mod 256
	Payload []byte
}

// FrameLog appends records to a stream, usually a gzip file.
// Not safe for concurrent use.
type FrameLog struct {
	w       io.Writer
	closers []io.Closer
	buf     []byte

	records int64
	written int64
}

// NewFrameLog writes records to w.
func NewFrameLog(w io.Writer) *FrameLog {
	return &FrameLog{w: w}
}

// CreateFrameLog creates a gzip frame log whose path is pattern expanded by
// strftime at now (e.g. "frames-%Y%m%d-%H%M%S.bin.gz"). Missing directories
// are created. Returns the log and the resolved path.
func CreateFrameLog(pattern string, now time.Time) (*FrameLog, string, error) {
	path := strftime.Format(pattern, now)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("delta: create frame log dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("delta: create frame log: %w", err)
	}
	zw := gzip.NewWriter(f)

	l := NewFrameLog(zw)
	l.closers = []io.Closer{zw, f}
	return l, path, nil
}

// Append writes one record.
func (l *FrameLog) Append(rec Record) error {
	l.buf = append(l.buf[:0], Magic[:]...)
	l.buf = binary.LittleEndian.AppendUint32(l.buf, rec.Seconds)
	l.buf = append(l.buf, rec.Seq)
	l.buf = append(l.buf, rec.Payload...)

	n, err := l.w.Write(l.buf)
	l.written += int64(n)
	if err != nil {
		return fmt.Errorf("delta: write frame record: %w", err)
	}
	l.records++
	return nil
}

// Records returns the number of records written.
func (l *FrameLog) Records() int64 { return l.records }

// Written returns the uncompressed bytes written.
func (l *FrameLog) Written() int64 { return l.written }

// Close flushes and closes the underlying file, if the log owns one.
func (l *FrameLog) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// FrameLogReader reads fixed-size records back, resynchronising on Magic
// after garbage or a torn write.
type FrameLogReader struct {
	r       *bufio.Reader
	size    int
	skipped int64
	closers []io.Closer
}

// NewFrameLogReader reads records with payloadSize-byte payloads from r.
func NewFrameLogReader(r io.Reader, payloadSize int) *FrameLogReader {
	return &FrameLogReader{r: bufio.NewReader(r), size: payloadSize}
}

// OpenFrameLogFile opens a gzip frame log.
func OpenFrameLogFile(path string, payloadSize int) (*FrameLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("delta: open frame log: %w", err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("delta: open frame log: %w", err)
	}
	r := NewFrameLogReader(zr, payloadSize)
	r.closers = []io.Closer{zr, f}
	return r, nil
}

// Next returns the next record. io.EOF at a clean end; a record cut short
// by the end of the stream is io.ErrUnexpectedEOF.
func (r *FrameLogReader) Next() (Record, error) {
	if err := r.sync(); err != nil {
		return Record{}, err
	}

	var hdr [HeaderSize - len(Magic)]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return Record{}, unexpected(err)
	}

	payload := make([]byte, r.size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, unexpected(err)
	}

	return Record{
		Seconds: binary.LittleEndian.Uint32(hdr[:4]),
		Seq:     hdr[4],
		Payload: payload,
	}, nil
}

// Skipped returns the number of bytes discarded while resynchronising.
func (r *FrameLogReader) Skipped() int64 { return r.skipped }

// Close closes the file opened by OpenFrameLogFile.
func (r *FrameLogReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// sync consumes bytes up to and including the next Magic.
func (r *FrameLogReader) sync() error {
	matched := 0
	for matched < len(Magic) {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && matched > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		switch {
		case b == Magic[matched]:
			matched++
		case b == Magic[0]:
			r.skipped += int64(matched)
			matched = 1
		default:
			r.skipped += int64(matched) + 1
			matched = 0
		}
	}
	return nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
