// Package battle follows encounters through the dialog stream and produces
// one annotated transcript per encounter.
package battle

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// State is the position of a session in the encounter state machine
type State int

const (
	StateActive State = iota
	StatePendingExp
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePendingExp:
		return "opponent-defeated-pending-exp"
	default:
		return "unknown"
	}
}

// Outcome is how an encounter ended
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeLost
	OutcomeWon
	OutcomeCaught
	OutcomeFled
	OutcomeDefeated
	OutcomeSuperseded
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:       "",
	OutcomeLost:       "lost",
	OutcomeWon:        "won",
	OutcomeCaught:     "caught",
	OutcomeFled:       "fled",
	OutcomeDefeated:   "defeated",
	OutcomeSuperseded: "superseded",
}

func (o Outcome) String() string {
	return outcomeNames[o]
}

// ParseOutcome is the inverse of Outcome.String
func ParseOutcome(s string) (Outcome, bool) {
	for o, name := range outcomeNames {
		if name == s {
			return o, true
		}
	}
	return OutcomeNone, false
}

// Entry is one annotated transcript line
type Entry struct {
	Time string
	Line string
}

// Transcript is the record of one finished (or running) encounter.
type Transcript struct {
	ID        string
	Opponent  string
	Level     int
	Trainer   bool
	StartTime string
	Entries   []Entry
	Outcome   Outcome
}

// Header renders the first transcript line, e.g.
// "Wild encounter with L05 RATTATA at 0d1h2m3s".
func (t *Transcript) Header() string {
	kind := "Wild"
	if t.Trainer {
		kind = "Trainer"
	}
	return fmt.Sprintf("%s encounter with L%02d %s at %s", kind, t.Level, t.Opponent, t.StartTime)
}

// Lines renders the header followed by one "<time> <line>" per entry.
func (t *Transcript) Lines() []string {
	out := make([]string, 0, len(t.Entries)+1)
	out = append(out, t.Header())
	for _, e := range t.Entries {
		out = append(out, e.Time+" "+e.Line)
	}
	return out
}

// String joins Lines with newlines.
func (t *Transcript) String() string {
	return strings.Join(t.Lines(), "\n")
}

// hud is the last known good reading of the battle screen
type hud struct {
	enemyKnown bool
	enemyPct   int

	usKnown bool
	usCur   int
	usMax   int
}

// Session is one encounter in progress. It is owned by the Tracker.
type Session struct {
	Transcript
	State State

	hud hud
}

func newSession(opponent string, trainer bool, start string) *Session {
	return &Session{
		Transcript: Transcript{
			ID:        uuid.NewString(),
			Opponent:  opponent,
			Trainer:   trainer,
			StartTime: start,
		},
		State: StateActive,
	}
}

func (s *Session) append(at, line string) {
	s.Entries = append(s.Entries, Entry{Time: at, Line: line})
}
