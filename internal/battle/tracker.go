package battle

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/tilefeed/internal/types"
)

// DefaultHistorySize is the number of closed transcripts kept in memory.
const DefaultHistorySize = 50

// DefaultNoise are menu prompts and narration that carry nothing about the
// encounter.
var DefaultNoise = []string{
	"FIGHT PKMN",
	"ITEM RUN",
	"Bring out which POKéMON?",
	"Choose a POKéMON.",
	"Use next POKéMON?",
	"What will",
}

var (
	wildPattern    = regexp.MustCompile(`^Wild (.+?) appeared`)
	trainerPattern = regexp.MustCompile(`^(.+?) wants to fight`)
	faintedPattern = regexp.MustCompile(`Enemy (.+?) fainted`)
)

const (
	phraseBlackedOut = "blacked out"
	phraseForWinning = "for winning"
	phraseCaught     = "was caught"
	phraseFled       = "Got away safely"
	phraseExp        = "EXP"
)

// Config tunes the tracker; zero fields take the defaults.
type Config struct {
	HistorySize   int
	Noise         []string
	EnemyLevel    Region
	EnemyBar      Region
	PlayerHP      Region
	BarScheme     string
	ExportTimeout time.Duration
}

// DefaultConfig returns the battle HUD layout of the 20x18 screen.
func DefaultConfig() Config {
	return Config{
		HistorySize:   DefaultHistorySize,
		Noise:         DefaultNoise,
		EnemyLevel:    Region{Row: 1, X0: 3, X1: 9},
		EnemyBar:      Region{Row: 2, X0: 4, X1: 10},
		PlayerHP:      Region{Row: 10, X0: 10, X1: 19},
		BarScheme:     DefaultBarScheme,
		ExportTimeout: 5 * time.Second,
	}
}

// Exporter receives every closed transcript.
type Exporter interface {
	Export(ctx context.Context, t *Transcript) error
}

// Tracker holds at most one open encounter and a bounded history of
// closed ones. HandleUtterance has the dialog subscriber signature.
//
// Transitions:
//   - "Wild X appeared" / "X wants to fight": opens a session, closing any
//     open one as superseded.
//   - active: noise is dropped, every other line is annotated and recorded.
//     "blacked out" closes as lost; for trainers "for winning" closes as
//     won; for wild encounters "was caught" closes as caught, "Got away
//     safely" as fled and "Enemy X fainted" moves to pending-exp.
//   - pending-exp: lines containing "EXP" are recorded, the first other
//     line closes the session as defeated and is not recorded.
//
// Thread-safety: safe for concurrent use; HandleUtterance is normally
// called only from the processing goroutine.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	ann      annotator
	exporter Exporter

	session *Session
	history []Transcript
	closed  uint64
}

// NewTracker creates a tracker. exporter may be nil.
func NewTracker(cfg Config, exporter Exporter) *Tracker {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Noise == nil {
		cfg.Noise = def.Noise
	}
	if cfg.BarScheme == "" {
		cfg.BarScheme = def.BarScheme
	}
	if cfg.EnemyLevel == (Region{}) {
		cfg.EnemyLevel = def.EnemyLevel
	}
	if cfg.EnemyBar == (Region{}) {
		cfg.EnemyBar = def.EnemyBar
	}
	if cfg.PlayerHP == (Region{}) {
		cfg.PlayerHP = def.PlayerHP
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = def.ExportTimeout
	}

	return &Tracker{
		cfg: cfg,
		ann: annotator{
			enemyBar:  cfg.EnemyBar,
			playerHP:  cfg.PlayerHP,
			level:     cfg.EnemyLevel,
			barScheme: cfg.BarScheme,
		},
		exporter: exporter,
	}
}

// HandleUtterance advances the state machine with one finished utterance.
// grid is the screen the dialog closed on, used for annotation; it may be nil.
func (t *Tracker) HandleUtterance(u types.Utterance, grid *types.TextGrid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := u.Text
	if name, trainer, ok := matchOpen(text); ok {
		if t.session != nil {
			t.closeLocked(OutcomeSuperseded)
		}
		t.session = newSession(name, trainer, u.Time)
		t.record(u.Time, text, grid)
		slog.Info("battle: encounter started",
			"opponent", name,
			"trainer", trainer,
			"id", t.session.ID,
		)
		return
	}

	s := t.session
	if s == nil {
		return
	}

	if s.State == StatePendingExp {
		if !strings.Contains(text, phraseExp) {
			t.closeLocked(OutcomeDefeated)
			return
		}
		t.record(u.Time, text, grid)
		return
	}

	if t.isNoise(text) {
		return
	}
	t.record(u.Time, text, grid)

	switch {
	case strings.Contains(text, phraseBlackedOut):
		t.closeLocked(OutcomeLost)
	case s.Trainer && strings.Contains(text, phraseForWinning):
		t.closeLocked(OutcomeWon)
	case !s.Trainer && strings.Contains(text, phraseCaught):
		t.closeLocked(OutcomeCaught)
	case !s.Trainer && strings.Contains(text, phraseFled):
		t.closeLocked(OutcomeFled)
	case !s.Trainer && faintedPattern.MatchString(text):
		s.State = StatePendingExp
		slog.Debug("battle: opponent fainted", "id", s.ID)
	}
}

func matchOpen(text string) (name string, trainer bool, ok bool) {
	if m := wildPattern.FindStringSubmatch(text); m != nil {
		return m[1], false, true
	}
	if m := trainerPattern.FindStringSubmatch(text); m != nil {
		return m[1], true, true
	}
	return "", false, false
}

func (t *Tracker) isNoise(text string) bool {
	for _, n := range t.cfg.Noise {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func (t *Tracker) record(at, text string, grid *types.TextGrid) {
	t.session.append(at, t.ann.annotate(t.session, text, grid))
}

// closeLocked ends the open session, stores it in the history and hands it
// to the exporter.
func (t *Tracker) closeLocked(outcome Outcome) {
	s := t.session
	t.session = nil
	s.Outcome = outcome

	tr := s.Transcript
	t.history = append(t.history, tr)
	if over := len(t.history) - t.cfg.HistorySize; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
	t.closed++

	slog.Info("battle: encounter closed",
		"id", tr.ID,
		"opponent", tr.Opponent,
		"level", tr.Level,
		"outcome", outcome.String(),
		"entries", len(tr.Entries),
	)

	if t.exporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ExportTimeout)
	defer cancel()
	if err := t.exporter.Export(ctx, &tr); err != nil {
		slog.Warn("battle: export failed", "id", tr.ID, "error", err)
	}
}

// Active returns a copy of the open session, if any.
func (t *Tracker) Active() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return Session{}, false
	}
	s := *t.session
	s.Entries = append([]Entry(nil), s.Entries...)
	return s, true
}

// History returns the closed transcripts, oldest first.
func (t *Tracker) History() []Transcript {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transcript(nil), t.history...)
}

// Closed returns the number of sessions closed since creation.
func (t *Tracker) Closed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Flush closes the open session as superseded; used on shutdown.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		t.closeLocked(OutcomeSuperseded)
	}
}
