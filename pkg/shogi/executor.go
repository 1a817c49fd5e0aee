package shogi

import (
	"fmt"
	"strings"
)

// Action is a move of a board piece or a drop from hand.
type Action struct {
	Drop bool
	Kind Kind // dropped kind; unused for board moves
	From Square
	To   Square
	// Promote requests promotion explicitly, as USI and KIF moves do.
	Promote bool
}

func MoveAction(from, to Square) Action {
	return Action{From: from, To: to}
}

func DropAction(kind Kind, to Square) Action {
	return Action{Drop: true, Kind: kind, To: to}
}

// USI renders the action as "7g7f", "7c7b+" or "P*5e".
func (a Action) USI() string {
	if a.Drop {
		return fmt.Sprintf("%c*%s", a.Kind.Letter(), a.To.USI())
	}
	usi := a.From.USI() + a.To.USI()
	if a.Promote {
		usi += "+"
	}
	return usi
}

func (a Action) String() string {
	return a.USI()
}

// ParseUSIMove reads a USI move string.
func ParseUSIMove(move string) (Action, error) {
	if strings.Contains(move, "*") {
		parts := strings.SplitN(move, "*", 2)
		if len(parts) != 2 || len(parts[0]) != 1 {
			return Action{}, fmt.Errorf("invalid drop move: %s", move)
		}
		kind, ok := KindFromLetter(parts[0][0])
		if !ok || kind == King {
			return Action{}, fmt.Errorf("invalid drop piece: %s", move)
		}
		to, err := parseUSISquare(parts[1])
		if err != nil {
			return Action{}, err
		}
		return DropAction(kind, to), nil
	}
	if len(move) < 4 {
		return Action{}, fmt.Errorf("invalid move: %s", move)
	}
	from, err := parseUSISquare(move[0:2])
	if err != nil {
		return Action{}, err
	}
	to, err := parseUSISquare(move[2:4])
	if err != nil {
		return Action{}, err
	}
	a := MoveAction(from, to)
	if len(move) > 4 {
		if move[4:] != "+" {
			return Action{}, fmt.Errorf("invalid promotion marker: %s", move)
		}
		a.Promote = true
	}
	return a, nil
}

func parseUSISquare(text string) (Square, error) {
	if len(text) != 2 {
		return Square{}, fmt.Errorf("invalid square: %s", text)
	}
	sq := Sq(int(text[0]-'0'), int(text[1]-'a')+1)
	if !sq.Valid() {
		return Square{}, fmt.Errorf("invalid square: %s", text)
	}
	return sq, nil
}

// Actor decides optional promotions.
type Actor uint8

const (
	// Interactive actors are asked; the executor suspends with a pending plan.
	Interactive Actor = iota
	// Automated actors always promote when allowed.
	Automated
)

type Promotion uint8

const (
	PromotionNone Promotion = iota
	PromotionOptional
	PromotionMandatory
)

// Plan is an inspected, not yet committed action.
type Plan struct {
	Action    Action
	Piece     Piece
	Promotion Promotion
}

// Step is the result of Executor.Apply: either a committed record or a plan
// waiting for the actor's promotion choice.
type Step struct {
	Record  *MoveRecord
	Pending *Plan
}

// MoveRecord describes one committed ply for notation.
type MoveRecord struct {
	Number   int
	Actor    Color
	Piece    Piece // the piece as it stood before the move
	From     Square
	To       Square
	Drop     bool
	Captured Kind // base kind taken; NoKind when nothing was captured
	Promoted bool
	Declined bool // promotion was available and refused
}

// Action rebuilds the action the record was produced from.
func (r MoveRecord) Action() Action {
	if r.Drop {
		return DropAction(r.Piece.Kind, r.To)
	}
	a := MoveAction(r.From, r.To)
	a.Promote = r.Promoted
	return a
}

// Executor mutates a GameState. It trusts the caller on legality and only
// guards the data invariants.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Plan inspects the action against the state without changing it.
func (e *Executor) Plan(s *GameState, a Action) (Plan, error) {
	if !a.To.Valid() {
		return Plan{}, fmt.Errorf("%w: destination %v off board", ErrIntegrity, a.To)
	}
	if a.Drop {
		if a.Kind == NoKind || a.Kind == King {
			return Plan{}, fmt.Errorf("%w: cannot drop %v", ErrIntegrity, a.Kind)
		}
		if s.Hands[s.Turn].Count(a.Kind) == 0 {
			return Plan{}, fmt.Errorf("%w: no %v in %v hand", ErrIntegrity, a.Kind, s.Turn)
		}
		if !s.PieceAt(a.To).IsEmpty() {
			return Plan{}, fmt.Errorf("%w: drop on occupied %v", ErrIntegrity, a.To)
		}
		return Plan{Action: a, Piece: Piece{Kind: a.Kind, Owner: s.Turn}}, nil
	}

	p := s.PieceAt(a.From)
	if p.IsEmpty() {
		return Plan{}, fmt.Errorf("%w: no piece at %v", ErrIntegrity, a.From)
	}
	if p.Owner != s.Turn {
		return Plan{}, fmt.Errorf("%w: %v moving %v piece", ErrIntegrity, s.Turn, p.Owner)
	}
	if target := s.PieceAt(a.To); !target.IsEmpty() && target.Owner == p.Owner {
		return Plan{}, fmt.Errorf("%w: capturing own piece at %v", ErrIntegrity, a.To)
	}
	if target := s.PieceAt(a.To); target.Kind == King {
		return Plan{}, fmt.Errorf("%w: capturing king at %v", ErrIntegrity, a.To)
	}
	plan := Plan{Action: a, Piece: p}
	if canPromoteOn(p, a.From, a.To) {
		plan.Promotion = PromotionOptional
		if mustPromote(p.Kind, a.To.Rank, p.Owner) {
			plan.Promotion = PromotionMandatory
		}
	}
	return plan, nil
}

// Commit applies a plan. promote is ignored unless the promotion is optional.
func (e *Executor) Commit(s *GameState, plan Plan, promote bool) (MoveRecord, error) {
	before := s.PieceCount()
	a := plan.Action
	rec := MoveRecord{
		Number: s.MoveCount + 1,
		Actor:  s.Turn,
		Piece:  plan.Piece,
		From:   a.From,
		To:     a.To,
		Drop:   a.Drop,
	}

	placed := plan.Piece
	if a.Drop {
		if !s.Hands[s.Turn].Remove(a.Kind) {
			return MoveRecord{}, fmt.Errorf("%w: no %v in %v hand", ErrIntegrity, a.Kind, s.Turn)
		}
	} else {
		if s.PieceAt(a.From) != plan.Piece {
			return MoveRecord{}, fmt.Errorf("%w: plan is stale at %v", ErrIntegrity, a.From)
		}
		if target := s.PieceAt(a.To); !target.IsEmpty() {
			s.Hands[s.Turn].Add(target.Kind)
			rec.Captured = target.Kind
			s.SetPiece(a.To, Piece{})
		}
		switch plan.Promotion {
		case PromotionMandatory:
			placed = placed.Promote()
			rec.Promoted = true
		case PromotionOptional:
			if promote {
				placed = placed.Promote()
				rec.Promoted = true
			} else {
				rec.Declined = true
			}
		}
		s.SetPiece(a.From, Piece{})
	}
	s.SetPiece(a.To, placed)
	s.Turn = s.Turn.Opponent()
	s.MoveCount++
	s.LastMove = a.To
	s.HasLast = true

	if after := s.PieceCount(); after != before {
		return rec, fmt.Errorf("%w: piece count changed from %d to %d", ErrIntegrity, before, after)
	}
	return rec, nil
}

// Apply plans the action and commits it unless the actor has to be asked.
// For an interactive actor with an optional promotion and no explicit
// request the state is left untouched and the plan is returned for a later
// Commit.
func (e *Executor) Apply(s *GameState, a Action, actor Actor) (Step, error) {
	plan, err := e.Plan(s, a)
	if err != nil {
		return Step{}, err
	}
	promote := a.Promote
	if plan.Promotion == PromotionOptional && !promote {
		if actor == Interactive {
			return Step{Pending: &plan}, nil
		}
		promote = true
	}
	rec, err := e.Commit(s, plan, promote)
	if err != nil {
		return Step{}, err
	}
	return Step{Record: &rec}, nil
}
