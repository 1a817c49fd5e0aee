package shogi

import "fmt"

// DefaultMoveLimit ends the game as a draw once this many plies are played.
const DefaultMoveLimit = 500

// repetitionLimit is the occurrence count that ends the game (sennichite).
const repetitionLimit = 4

type Status uint8

const (
	InProgress Status = iota
	Draw
	Win
)

func (s Status) String() string {
	switch s {
	case Draw:
		return "draw"
	case Win:
		return "win"
	default:
		return "in_progress"
	}
}

type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonMoveLimit
	ReasonCheckmate
	ReasonRepetition
	ReasonPerpetualCheck
	ReasonResignation
)

var reasonNames = [...]string{
	ReasonNone:           "",
	ReasonMoveLimit:      "move_limit",
	ReasonCheckmate:      "checkmate",
	ReasonRepetition:     "repetition",
	ReasonPerpetualCheck: "perpetual_check",
	ReasonResignation:    "resignation",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Outcome is the terminal verdict after a ply. Winner is meaningful only for Win.
type Outcome struct {
	Status Status
	Winner Color
	Reason Reason
}

func (o Outcome) Over() bool {
	return o.Status != InProgress
}

func (o Outcome) String() string {
	switch o.Status {
	case Win:
		return fmt.Sprintf("%v wins by %v", o.Winner, o.Reason)
	case Draw:
		return fmt.Sprintf("draw by %v", o.Reason)
	default:
		return "in progress"
	}
}

func winFor(c Color, r Reason) Outcome {
	return Outcome{Status: Win, Winner: c, Reason: r}
}

func drawBy(r Reason) Outcome {
	return Outcome{Status: Draw, Reason: r}
}

// Occurrence notes one appearance of a position.
type Occurrence struct {
	Check   bool  // the side to move was in check
	Checker Color // side delivering the check; meaningful only when Check
}

// Ledger counts position occurrences. The journal keeps recorded keys in
// order so undo can retract them.
type Ledger struct {
	counts  map[PositionKey]int
	records map[PositionKey][]Occurrence
	journal []PositionKey
}

func NewLedger() *Ledger {
	return &Ledger{
		counts:  make(map[PositionKey]int),
		records: make(map[PositionKey][]Occurrence),
	}
}

// Record adds one occurrence of key.
func (l *Ledger) Record(key PositionKey, occ Occurrence) int {
	l.counts[key]++
	l.records[key] = append(l.records[key], occ)
	l.journal = append(l.journal, key)
	return l.counts[key]
}

func (l *Ledger) Count(key PositionKey) int {
	return l.counts[key]
}

// Occurrences returns a copy of the records for key, oldest first.
func (l *Ledger) Occurrences(key PositionKey) []Occurrence {
	return append([]Occurrence(nil), l.records[key]...)
}

// Len is the number of recorded occurrences.
func (l *Ledger) Len() int {
	return len(l.journal)
}

// Rewind retracts the n most recent occurrences.
func (l *Ledger) Rewind(n int) {
	for ; n > 0 && len(l.journal) > 0; n-- {
		key := l.journal[len(l.journal)-1]
		l.journal = l.journal[:len(l.journal)-1]
		l.counts[key]--
		recs := l.records[key]
		l.records[key] = recs[:len(recs)-1]
		if l.counts[key] == 0 {
			delete(l.counts, key)
			delete(l.records, key)
		}
	}
}

// Detector decides whether a position ends the game.
type Detector struct {
	Oracle    Oracle
	MoveLimit int
}

func NewDetector(oracle Oracle) *Detector {
	return &Detector{Oracle: oracle, MoveLimit: DefaultMoveLimit}
}

func (d *Detector) occurrence(s *GameState) Occurrence {
	if d.Oracle.IsInCheck(s, s.Turn) {
		return Occurrence{Check: true, Checker: s.Turn.Opponent()}
	}
	return Occurrence{}
}

// Register records the starting position of a game.
func (d *Detector) Register(s *GameState, l *Ledger) error {
	key, err := s.Key()
	if err != nil {
		return err
	}
	l.Record(key, d.occurrence(s))
	return nil
}

// Evaluate records the position in the ledger and returns the outcome. The
// ledger is updated before any verdict, so a checkmate or move-limit ply is
// journaled like every other ply.
func (d *Detector) Evaluate(s *GameState, l *Ledger) (Outcome, error) {
	key, err := s.Key()
	if err != nil {
		return Outcome{}, err
	}
	occ := d.occurrence(s)
	count := l.Record(key, occ)

	limit := d.MoveLimit
	if limit <= 0 {
		limit = DefaultMoveLimit
	}
	if s.MoveCount >= limit {
		return drawBy(ReasonMoveLimit), nil
	}
	if occ.Check && !d.Oracle.HasAnyLegalMove(s, s.Turn) {
		return winFor(s.Turn.Opponent(), ReasonCheckmate), nil
	}
	if count >= repetitionLimit {
		recs := l.records[key]
		recs = recs[len(recs)-repetitionLimit:]
		perpetual := true
		for _, r := range recs {
			if !r.Check || r.Checker != recs[0].Checker {
				perpetual = false
				break
			}
		}
		if perpetual {
			return winFor(recs[0].Checker.Opponent(), ReasonPerpetualCheck), nil
		}
		return drawBy(ReasonRepetition), nil
	}
	return Outcome{}, nil
}
