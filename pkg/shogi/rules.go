package shogi

// Oracle answers legality and check questions. The executor never calls it;
// the Game and the terminal detector do.
type Oracle interface {
	LegalMoves(s *GameState, from Square) []Square
	LegalDrops(s *GameState, player Color, kind Kind) []Square
	IsInCheck(s *GameState, player Color) bool
	HasAnyLegalMove(s *GameState, player Color) bool
}

// Rules implements Oracle with the standard piece movement, self-check
// filtering and the drop restrictions (two pawns on a file, dead pieces,
// pawn-drop mate).
type Rules struct{}

var _ Oracle = Rules{}

// step is a displacement seen from Black; dr < 0 is forward.
type step struct {
	df int
	dr int
}

var (
	pawnSteps   = []step{{0, -1}}
	knightSteps = []step{{-1, -2}, {1, -2}}
	silverSteps = []step{{-1, -1}, {0, -1}, {1, -1}, {-1, 1}, {1, 1}}
	goldSteps   = []step{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {0, 1}}
	orthSteps   = []step{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}
	diagSteps   = []step{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}}
	kingSteps   = append(append([]step{}, orthSteps...), diagSteps...)
	lanceSlides = []step{{0, -1}}
)

// movement returns the single steps and sliding directions of a piece.
func movement(p Piece) (steps, slides []step) {
	if p.Promoted {
		switch p.Kind {
		case Pawn, Lance, Knight, Silver:
			return goldSteps, nil
		case Bishop:
			return orthSteps, diagSteps
		case Rook:
			return diagSteps, orthSteps
		}
	}
	switch p.Kind {
	case Pawn:
		return pawnSteps, nil
	case Lance:
		return nil, lanceSlides
	case Knight:
		return knightSteps, nil
	case Silver:
		return silverSteps, nil
	case Gold:
		return goldSteps, nil
	case Bishop:
		return nil, diagSteps
	case Rook:
		return nil, orthSteps
	case King:
		return kingSteps, nil
	}
	return nil, nil
}

func orient(st step, c Color) step {
	if c == White {
		st.dr = -st.dr
	}
	return st
}

// pseudoTargets lists the squares the piece on from reaches, ignoring self-check.
func pseudoTargets(s *GameState, from Square) []Square {
	p := s.PieceAt(from)
	if p.IsEmpty() {
		return nil
	}
	steps, slides := movement(p)
	var out []Square
	for _, st := range steps {
		st = orient(st, p.Owner)
		to := Sq(from.File+st.df, from.Rank+st.dr)
		if !to.Valid() {
			continue
		}
		if target := s.PieceAt(to); !target.IsEmpty() && target.Owner == p.Owner {
			continue
		}
		out = append(out, to)
	}
	for _, st := range slides {
		st = orient(st, p.Owner)
		to := Sq(from.File+st.df, from.Rank+st.dr)
		for to.Valid() {
			target := s.PieceAt(to)
			if !target.IsEmpty() {
				if target.Owner != p.Owner {
					out = append(out, to)
				}
				break
			}
			out = append(out, to)
			to = Sq(to.File+st.df, to.Rank+st.dr)
		}
	}
	return out
}

// attacked reports whether any piece of side by reaches sq.
func attacked(s *GameState, sq Square, by Color) bool {
	for rank := 1; rank <= 9; rank++ {
		for file := 1; file <= 9; file++ {
			from := Sq(file, rank)
			p := s.PieceAt(from)
			if p.IsEmpty() || p.Owner != by {
				continue
			}
			for _, to := range pseudoTargets(s, from) {
				if to == sq {
					return true
				}
			}
		}
	}
	return false
}

func (Rules) IsInCheck(s *GameState, player Color) bool {
	king, ok := s.KingSquare(player)
	if !ok {
		return false
	}
	return attacked(s, king, player.Opponent())
}

func (r Rules) LegalMoves(s *GameState, from Square) []Square {
	p := s.PieceAt(from)
	if p.IsEmpty() {
		return nil
	}
	var out []Square
	for _, to := range pseudoTargets(s, from) {
		next := *s
		next.SetPiece(from, Piece{})
		next.SetPiece(to, p)
		if !r.IsInCheck(&next, p.Owner) {
			out = append(out, to)
		}
	}
	return out
}

func (r Rules) LegalDrops(s *GameState, player Color, kind Kind) []Square {
	return r.legalDrops(s, player, kind, true)
}

// legalDrops skips the pawn-drop-mate test when checkPawnMate is false; the
// test itself asks whether the opponent can move, and a pawn drop can never
// answer a pawn check, so the recursion stops there.
func (r Rules) legalDrops(s *GameState, player Color, kind Kind, checkPawnMate bool) []Square {
	if kind == NoKind || kind == King || s.Hands[player].Count(kind) == 0 {
		return nil
	}
	var out []Square
	for rank := 1; rank <= 9; rank++ {
		if mustPromote(kind, rank, player) {
			continue
		}
		for file := 1; file <= 9; file++ {
			to := Sq(file, rank)
			if !s.PieceAt(to).IsEmpty() {
				continue
			}
			if kind == Pawn && hasPawnOnFile(s, player, file) {
				continue
			}
			next := *s
			next.Hands[player].Remove(kind)
			next.SetPiece(to, Piece{Kind: kind, Owner: player})
			if r.IsInCheck(&next, player) {
				continue
			}
			if kind == Pawn && checkPawnMate && r.IsInCheck(&next, player.Opponent()) &&
				!r.hasAnyLegalMove(&next, player.Opponent(), false) {
				continue
			}
			out = append(out, to)
		}
	}
	return out
}

func hasPawnOnFile(s *GameState, player Color, file int) bool {
	for rank := 1; rank <= 9; rank++ {
		p := s.PieceAt(Sq(file, rank))
		if p.Kind == Pawn && p.Owner == player && !p.Promoted {
			return true
		}
	}
	return false
}

func (r Rules) HasAnyLegalMove(s *GameState, player Color) bool {
	return r.hasAnyLegalMove(s, player, true)
}

func (r Rules) hasAnyLegalMove(s *GameState, player Color, checkPawnMate bool) bool {
	for rank := 1; rank <= 9; rank++ {
		for file := 1; file <= 9; file++ {
			from := Sq(file, rank)
			p := s.PieceAt(from)
			if p.IsEmpty() || p.Owner != player {
				continue
			}
			if len(r.LegalMoves(s, from)) > 0 {
				return true
			}
		}
	}
	for _, kind := range s.Hands[player].Kinds() {
		if len(r.legalDrops(s, player, kind, checkPawnMate)) > 0 {
			return true
		}
	}
	return false
}

// IsLegal checks a single action for the side to move.
func (r Rules) IsLegal(s *GameState, a Action) bool {
	return isLegal(r, s, a)
}

func isLegal(o Oracle, s *GameState, a Action) bool {
	if a.Drop {
		return containsSquare(o.LegalDrops(s, s.Turn, a.Kind), a.To)
	}
	p := s.PieceAt(a.From)
	if p.IsEmpty() || p.Owner != s.Turn {
		return false
	}
	if a.Promote && !canPromoteOn(p, a.From, a.To) {
		return false
	}
	return containsSquare(o.LegalMoves(s, a.From), a.To)
}

func canPromoteOn(p Piece, from, to Square) bool {
	return !p.Promoted && p.Kind.CanPromote() &&
		(InPromotionZone(from.Rank, p.Owner) || InPromotionZone(to.Rank, p.Owner))
}

// LegalActions enumerates every move and drop for the side to move. Moves
// carry no promotion request; the executor resolves promotion.
func (r Rules) LegalActions(s *GameState) []Action {
	var out []Action
	for rank := 1; rank <= 9; rank++ {
		for file := 1; file <= 9; file++ {
			from := Sq(file, rank)
			p := s.PieceAt(from)
			if p.IsEmpty() || p.Owner != s.Turn {
				continue
			}
			for _, to := range r.LegalMoves(s, from) {
				out = append(out, MoveAction(from, to))
			}
		}
	}
	for _, kind := range s.Hands[s.Turn].Kinds() {
		for _, to := range r.LegalDrops(s, s.Turn, kind) {
			out = append(out, DropAction(kind, to))
		}
	}
	return out
}

func containsSquare(squares []Square, sq Square) bool {
	for _, s := range squares {
		if s == sq {
			return true
		}
	}
	return false
}
