// Package timestamp reads the elapsed play time from the stream overlay.
//
// The overlay font is fixed, so each character is identified by its column
// profile: the number of bright pixels in every pixel column, halved. Runs of
// empty columns separate characters.
package timestamp

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/e7canasta/tilefeed/internal/pipeline"
	"github.com/e7canasta/tilefeed/internal/types"
)

var (
	// ErrNoMatch is returned when a segment matches no template closely enough.
	ErrNoMatch = errors.New("timestamp: no close template match")

	// ErrFormat is returned when the decoded text is not a [Nd][Nh][Nm][Ns] value.
	ErrFormat = errors.New("timestamp: malformed elapsed time")
)

// DefaultTemplates maps column profiles (one letter per column, 'A' + level)
// to characters of the overlay font.
var DefaultTemplates = map[string]rune{
	"DGGEEDEJGDD": '0',
	"BBDJJJJBBB":  '1',
	"EHHGGEGHGEE": '2',
	"BEEEEEGJHEE": '3',
	"DEEEGEJJJBB": '4',
	"GHHEEEEHHDD": '5',
	"GJJEEEEHHDD": '6',
	"DDDEGGEGEDD": '7',
	"EJJEEEEJJEE": '8',
	"DHHEEEEJJGG": '9',
	"DDDDDDDDKK":  'd',
	"KKBBBBGE":    'h',
	"HHBBHGBBBGG": 'm',
	"DDEEEEEEBB":  's',
}

// Options configures a Recognizer.
type Options struct {
	Rect      image.Rectangle // overlay rectangle in raw frame coordinates
	Threshold uint8           // pixels above are bright (default: 150)
	Cutoff    float64         // minimum similarity of a nearest match (default: 0.6)
	Templates map[string]rune // default: DefaultTemplates
}

// Recognizer decodes the overlay and remembers the last good value.
type Recognizer struct {
	opts Options
	keys []string // template profiles, sorted for deterministic tie breaks

	last types.Elapsed
}

// NewRecognizer creates a recognizer whose initial value is 0d0h0m0s.
func NewRecognizer(opts Options) *Recognizer {
	if opts.Threshold == 0 {
		opts.Threshold = 150
	}
	if opts.Cutoff <= 0 {
		opts.Cutoff = 0.6
	}
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates
	}
	keys := make([]string, 0, len(opts.Templates))
	for k := range opts.Templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Recognizer{opts: opts, keys: keys}
}

// Last returns the last good value.
func (r *Recognizer) Last() types.Elapsed { return r.last }

// Read decodes the overlay of raw. On any failure the previous value is
// returned together with the error.
func (r *Recognizer) Read(raw *image.Gray) (types.Elapsed, error) {
	levels := Profile(raw, r.opts.Rect.Add(raw.Rect.Min), r.opts.Threshold)
	text, err := r.Decode(Segments(levels))
	if err != nil {
		return r.last, err
	}
	e, err := ParseElapsed(text)
	if err != nil {
		return r.last, err
	}
	r.last = e
	return e, nil
}

// Decode maps each segment to a character: exact template first, then the
// most similar template at or above the cutoff.
func (r *Recognizer) Decode(segments []string) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		if c, ok := r.opts.Templates[seg]; ok {
			b.WriteRune(c)
			continue
		}
		best, score := "", 0.0
		for _, k := range r.keys {
			if s := Similarity(seg, k); s > score {
				best, score = k, s
			}
		}
		if score < r.opts.Cutoff {
			return "", fmt.Errorf("%w: segment %q (best %.2f)", ErrNoMatch, seg, score)
		}
		b.WriteRune(r.opts.Templates[best])
	}
	return b.String(), nil
}

// Profile returns the bright pixel count of every column of rect, halved.
// Columns outside img count as empty.
func Profile(img *image.Gray, rect image.Rectangle, threshold uint8) []int {
	levels := make([]int, rect.Dx())
	for x := rect.Min.X; x < rect.Max.X; x++ {
		n := 0
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			if !(image.Point{X: x, Y: y}).In(img.Rect) {
				continue
			}
			if img.Pix[img.PixOffset(x, y)] > threshold {
				n++
			}
		}
		levels[x-rect.Min.X] = n / 2
	}
	return levels
}

// Segments splits a level profile on zero levels and renders each non-empty
// run as letters, 'A' + level.
func Segments(levels []int) []string {
	var (
		out []string
		cur []byte
	)
	for _, l := range levels {
		if l <= 0 {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, byte('A'+min(l, 'Z'-'A')))
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// Similarity is 2*LCS/(len(a)+len(b)), in [0, 1].
func Similarity(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	return 2 * float64(lcs(a, b)) / float64(len(a)+len(b))
}

func lcs(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

var elapsedPattern = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseElapsed parses "1d2h3m4s"; any unit may be absent but not all.
func ParseElapsed(s string) (types.Elapsed, error) {
	m := elapsedPattern.FindStringSubmatch(s)
	if m == nil || s == "" {
		return types.Elapsed{}, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	var v [4]int
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return types.Elapsed{}, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		v[i] = n
	}
	return types.Elapsed{Days: v[0], Hours: v[1], Minutes: v[2], Seconds: v[3]}, nil
}

// Handler is the pipeline stage storing the elapsed time in the context.
// It never fails the chain: an unreadable overlay keeps the last value.
type Handler struct {
	rec *Recognizer
}

// NewHandler wraps rec as a pipeline handler.
func NewHandler(rec *Recognizer) *Handler {
	return &Handler{rec: rec}
}

// Name implements pipeline.Handler.
func (h *Handler) Name() string { return "timestamp" }

// Handle implements pipeline.Handler.
func (h *Handler) Handle(fc *pipeline.FrameContext) (pipeline.Outcome, error) {
	if fc.Frame == nil || fc.Frame.Image == nil {
		fc.Elapsed = h.rec.Last()
		return pipeline.Continue, nil
	}
	e, err := h.rec.Read(fc.Frame.Image)
	if err != nil {
		slog.Debug("timestamp: overlay unreadable, keeping last value",
			"last", e.String(),
			"error", err,
		)
	}
	fc.Elapsed = e
	return pipeline.Continue, nil
}
